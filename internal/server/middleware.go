package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"sentinel/pkg/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// requireAuth verifies the bearer token and, when a session directory is
// configured, confirms the session still exists and refreshes its TTL.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if s.directory != nil {
			if _, err := s.directory.Get(r.Context(), claims.SessionID); err != nil {
				writeError(w, http.StatusUnauthorized, "session no longer valid")
				return
			}
			_ = s.directory.Touch(r.Context(), claims.SessionID)
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// bodyGuard caps request body size on mutating methods.
func bodyGuard(max int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if max > 0 && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next(w, r)
	}
}

// makeRateLimiter returns a fixed-window per-IP limiter.
func makeRateLimiter(reqPerMin int) func(http.HandlerFunc) http.HandlerFunc {
	if reqPerMin <= 0 {
		reqPerMin = 240
	}
	type bucket struct {
		count int
		win   int64
	}
	var mu sync.Mutex
	buckets := map[string]*bucket{}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			now := time.Now().Unix() / 60
			mu.Lock()
			b := buckets[ip]
			if b == nil || b.win != now {
				b = &bucket{count: 0, win: now}
				buckets[ip] = b
			}
			b.count++
			cnt := b.count
			mu.Unlock()
			if cnt > reqPerMin {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next(w, r)
		}
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}
