package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	red "github.com/redis/go-redis/v9"
)

// Revoker remembers sessions that were signed out before they expired.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

type RedisRevoker struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

func NewRedisRevoker(client *red.Client, keyPrefix string) *RedisRevoker {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = "portal-auth"
	}
	return &RedisRevoker{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisRevoker) key(sessionID string) string {
	return r.prefix + ":revoked:" + sessionID
}

func (r *RedisRevoker) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke session: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revoked session: %w", err)
	}
	return n > 0, nil
}

type InMemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewInMemoryRevoker() *InMemoryRevoker {
	return &InMemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

func (r *InMemoryRevoker) Revoke(_ context.Context, sessionID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, exp := range r.revoked {
		if !now.Before(exp) {
			delete(r.revoked, id)
		}
	}
	if until.After(now) {
		r.revoked[sessionID] = until
	}
	return nil
}

func (r *InMemoryRevoker) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[sessionID]
	return ok && r.now().Before(exp), nil
}

var (
	_ Revoker = (*RedisRevoker)(nil)
	_ Revoker = (*InMemoryRevoker)(nil)
)
