package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrUnknownTransportSession is returned when a presented transport
// session id is invalid, expired, or already used.
var ErrUnknownTransportSession = errors.New("unknown transport session id")

// Cache maps issued transport session ids back to canonical
// participant keys across reconnects. Entries expire; a server restart
// may drop them, in which case the client simply resolves fresh.
type Cache interface {
	Issue(ctx context.Context, participantKey string) (string, error)
	Lookup(ctx context.Context, transportSessionID string) (string, error)
	Revoke(ctx context.Context, transportSessionID string) error
}

const redisKeyPrefix = "transport_session:"

// RedisCache stores transport session ids in redis with a TTL, so
// reconnect identity survives across server processes sharing the
// instance.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Issue(ctx context.Context, participantKey string) (string, error) {
	sid := uuid.New().String()
	if err := c.rdb.Set(ctx, redisKeyPrefix+sid, participantKey, c.ttl).Err(); err != nil {
		return "", err
	}
	return sid, nil
}

func (c *RedisCache) Lookup(ctx context.Context, transportSessionID string) (string, error) {
	key, err := c.rdb.Get(ctx, redisKeyPrefix+transportSessionID).Result()
	if err == redis.Nil {
		return "", ErrUnknownTransportSession
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func (c *RedisCache) Revoke(ctx context.Context, transportSessionID string) error {
	return c.rdb.Del(ctx, redisKeyPrefix+transportSessionID).Err()
}

// MemoryCache is the in-process fallback used when no redis address is
// configured, and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	key       string
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Issue(_ context.Context, participantKey string) (string, error) {
	sid := uuid.New().String()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sid] = memoryEntry{key: participantKey, expiresAt: c.now().Add(c.ttl)}
	return sid, nil
}

func (c *MemoryCache) Lookup(_ context.Context, transportSessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[transportSessionID]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, transportSessionID)
		return "", ErrUnknownTransportSession
	}
	return e.key, nil
}

func (c *MemoryCache) Revoke(_ context.Context, transportSessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, transportSessionID)
	return nil
}
