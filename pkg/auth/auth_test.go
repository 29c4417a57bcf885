package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.True(t, CheckPassword("correct horse battery staple", hash))
	assert.False(t, CheckPassword("wrong password", hash))
	assert.False(t, CheckPassword("", hash))
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h1, err := HashPassword("same input")
	require.NoError(t, err)
	h2, err := HashPassword("same input")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestJWTGenerateAndVerify(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour, "sentinel-test")

	token, err := mgr.Generate("user-1", "alice", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := mgr.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "sentinel-test", claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestJWTVerifyRejectsOtherSecret(t *testing.T) {
	mgr := NewJWTManager("secret-a", time.Hour, "")
	other := NewJWTManager("secret-b", time.Hour, "")

	token, err := mgr.Generate("user-1", "alice", "sess-1")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifyRejectsExpired(t *testing.T) {
	mgr := NewJWTManager("test-secret", -time.Minute, "")

	token, err := mgr.Generate("user-1", "alice", "sess-1")
	require.NoError(t, err)

	_, err = mgr.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifyRejectsGarbage(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour, "")

	_, err := mgr.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
