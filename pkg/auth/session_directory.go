package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
)

// SessionRecord is the directory entry kept in Redis for an active login.
// The risk engine owns the trust state; this record only maps tokens to
// sessions and carries client metadata for the admin surface.
type SessionRecord struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionDirectory stores login sessions in Redis with a sliding TTL.
type SessionDirectory struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// SessionDirectoryConfig configures the Redis-backed directory.
type SessionDirectoryConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
}

// NewSessionDirectory connects to Redis and verifies the connection.
func NewSessionDirectory(config SessionDirectoryConfig) (*SessionDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if config.SessionTTL == 0 {
		config.SessionTTL = 24 * time.Hour
	}

	return &SessionDirectory{
		client:    client,
		keyPrefix: "session:",
		ttl:       config.SessionTTL,
	}, nil
}

// Create registers a session under its ID.
func (sd *SessionDirectory) Create(ctx context.Context, sessionID, userID, username, ipAddress, userAgent string) (*SessionRecord, error) {
	now := time.Now()
	record := &SessionRecord{
		SessionID:  sessionID,
		UserID:     userID,
		Username:   username,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(sd.ttl),
	}

	key := sd.keyPrefix + sessionID
	err := sd.client.HSet(ctx, key,
		"session_id", record.SessionID,
		"user_id", record.UserID,
		"username", record.Username,
		"ip_address", record.IPAddress,
		"user_agent", record.UserAgent,
		"created_at", record.CreatedAt.Unix(),
		"last_access", record.LastAccess.Unix(),
		"expires_at", record.ExpiresAt.Unix(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sd.client.Expire(ctx, key, sd.ttl)

	return record, nil
}

// Get retrieves a session record, expiring it lazily when stale.
func (sd *SessionDirectory) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	key := sd.keyPrefix + sessionID

	result, err := sd.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrSessionNotFound
	}

	record := &SessionRecord{
		SessionID: result["session_id"],
		UserID:    result["user_id"],
		Username:  result["username"],
		IPAddress: result["ip_address"],
		UserAgent: result["user_agent"],
	}

	if createdAt, ok := result["created_at"]; ok {
		var timestamp int64
		fmt.Sscanf(createdAt, "%d", &timestamp)
		record.CreatedAt = time.Unix(timestamp, 0)
	}
	if lastAccess, ok := result["last_access"]; ok {
		var timestamp int64
		fmt.Sscanf(lastAccess, "%d", &timestamp)
		record.LastAccess = time.Unix(timestamp, 0)
	}
	if expiresAt, ok := result["expires_at"]; ok {
		var timestamp int64
		fmt.Sscanf(expiresAt, "%d", &timestamp)
		record.ExpiresAt = time.Unix(timestamp, 0)
	}

	if time.Now().After(record.ExpiresAt) {
		sd.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	return record, nil
}

// Touch updates last access time and extends the TTL.
func (sd *SessionDirectory) Touch(ctx context.Context, sessionID string) error {
	key := sd.keyPrefix + sessionID

	now := time.Now()
	err := sd.client.HSet(ctx, key,
		"last_access", now.Unix(),
		"expires_at", now.Add(sd.ttl).Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	sd.client.Expire(ctx, key, sd.ttl)

	return nil
}

// Delete removes a session at logout.
func (sd *SessionDirectory) Delete(ctx context.Context, sessionID string) error {
	key := sd.keyPrefix + sessionID
	if err := sd.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session held by a user.
func (sd *SessionDirectory) DeleteUserSessions(ctx context.Context, userID string) error {
	pattern := sd.keyPrefix + "*"
	iter := sd.client.Scan(ctx, 0, pattern, 0).Iterator()

	for iter.Next(ctx) {
		key := iter.Val()
		uid, err := sd.client.HGet(ctx, key, "user_id").Result()
		if err == nil && uid == userID {
			sd.client.Del(ctx, key)
		}
	}

	return iter.Err()
}

// Close closes the Redis connection.
func (sd *SessionDirectory) Close() error {
	return sd.client.Close()
}
