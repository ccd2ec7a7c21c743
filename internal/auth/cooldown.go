package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown blocks new sessions for a user until Until. The zero value blocks nothing.
type Cooldown struct {
	Until time.Time
}

// StartCooldown is created on logout.
func StartCooldown(now time.Time, d time.Duration) Cooldown {
	return Cooldown{Until: now.Add(d)}
}

// Permit reports whether a session may start at now.
func (c Cooldown) Permit(now time.Time) bool {
	return !now.Before(c.Until)
}

// Remaining is the wait left at now, zero when permitted.
func (c Cooldown) Remaining(now time.Time) time.Duration {
	if c.Permit(now) {
		return 0
	}
	return c.Until.Sub(now)
}

// CooldownStore keeps cooldowns per user.
type CooldownStore interface {
	Get(ctx context.Context, key string) (Cooldown, error)
	Put(ctx context.Context, key string, c Cooldown) error
	Clear(ctx context.Context, key string) error
}

// RedisCooldownStore stores cooldowns as keys that expire with them.
type RedisCooldownStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCooldownStore creates a store under key prefix "cooldown:".
func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client, prefix: "cooldown:", now: time.Now}
}

func (s *RedisCooldownStore) keyFor(key string) string { return s.prefix + key }

// Get returns the cooldown under key, or the zero Cooldown when there is none.
func (s *RedisCooldownStore) Get(ctx context.Context, key string) (Cooldown, error) {
	v, err := s.client.Get(ctx, s.keyFor(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Cooldown{}, nil
	}
	if err != nil {
		return Cooldown{}, fmt.Errorf("get cooldown: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return Cooldown{}, fmt.Errorf("parse cooldown %q: %w", v, err)
	}
	return Cooldown{Until: time.UnixMilli(ms)}, nil
}

// Put stores c until it lapses. A lapsed cooldown is not stored.
func (s *RedisCooldownStore) Put(ctx context.Context, key string, c Cooldown) error {
	ttl := c.Remaining(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.keyFor(key), c.Until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("put cooldown: %w", err)
	}
	return nil
}

// Clear removes the cooldown under key.
func (s *RedisCooldownStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyFor(key)).Err()
}

// MemoryCooldownStore is an in-process store for single-instance deployments and tests.
type MemoryCooldownStore struct {
	mu sync.Mutex
	m  map[string]Cooldown
}

// NewMemoryCooldownStore creates an empty store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{m: map[string]Cooldown{}}
}

func (s *MemoryCooldownStore) Get(_ context.Context, key string) (Cooldown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *MemoryCooldownStore) Put(_ context.Context, key string, c Cooldown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = c
	return nil
}

func (s *MemoryCooldownStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
