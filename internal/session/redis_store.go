// Package session provides Redis-backed storage for refresh sessions and
// revoked access tokens.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"corkboard/api/internal/rbac"
	"corkboard/api/internal/store"
)

const (
	refreshPrefix = "refresh:"
	revokedPrefix = "revoked:"
)

// refreshRecord is the JSON payload stored per refresh token hash.
type refreshRecord struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// RedisStore keeps refresh sessions in Redis keyed by token hash, with the
// TTL delegated to Redis expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveRefreshSession stores the session payload under the token hash. The key
// expires when the refresh token does.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	rec := refreshRecord{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        user.Role,
		IssuedAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh session already expired at %s", expiresAt)
	}

	if err := s.client.Set(ctx, refreshPrefix+tokenHash, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a token hash back to the user it was issued
// for. Missing and expired sessions are indistinguishable.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	payload, err := s.client.Get(ctx, refreshPrefix+tokenHash).Result()
	if err == redis.Nil {
		return store.User{}, fmt.Errorf("refresh session not found or expired")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var rec refreshRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return store.User{}, fmt.Errorf("unmarshal refresh session: %w", err)
	}

	return store.User{
		ID:          rec.UserID,
		DisplayName: rec.DisplayName,
		Email:       rec.Email,
		Role:        string(rbac.Normalize(rec.Role)),
	}, nil
}

// RevokeRefreshSession deletes a refresh session. Revoking a session that
// does not exist is not an error.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, refreshPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeAccessToken marks an access token JTI as revoked until the token
// would have expired anyway.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// IsAccessTokenRevoked reports whether a JTI has been revoked.
func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check access token: %w", err)
	}
	return n > 0, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
