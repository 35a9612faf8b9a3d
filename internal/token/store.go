package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"funnel-service/internal/client"
)

// ErrNotFound is returned by a Store when the key does not exist or
// its TTL has elapsed.
var ErrNotFound = errors.New("key not found")

// Store is the ephemeral storage behind the token manager. Values are
// sealed ciphertext; the store never sees plaintext credentials.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStore keeps values in-process with per-key expiry. It is the
// single-instance analog of tab-scoped session storage.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.values, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

// RedisStore backs the token manager with Redis so sealed sessions
// survive process restarts and are shared across instances. TTL
// handling is delegated to Redis.
type RedisStore struct {
	redis  *client.RedisClient
	prefix string
}

func NewRedisStore(redisClient *client.RedisClient, prefix string) *RedisStore {
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.redis.WithContext(ctx, 3*time.Second)
	defer cancel()
	return s.redis.Set(ctx, s.key(key), value, ttl)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.redis.WithContext(ctx, 3*time.Second)
	defer cancel()
	val, err := s.redis.Client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := s.redis.WithContext(ctx, 3*time.Second)
	defer cancel()
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.key(key)
	}
	return s.redis.Del(ctx, prefixed...)
}
