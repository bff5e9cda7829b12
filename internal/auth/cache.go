package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache holds live session tokens. Deleting a token revokes it.
type TokenCache interface {
	Set(ctx context.Context, token string, userID int64, ttl time.Duration) error
	Get(ctx context.Context, token string) (userID int64, ok bool, err error)
	Delete(ctx context.Context, token string) error
}

const tokenKeyPrefix = "session:token:"

// RedisCache stores tokens as session:token:<token> → user id with a TTL.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	return c.client.Set(ctx, tokenKeyPrefix+token, userID, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, token string) (int64, bool, error) {
	id, err := c.client.Get(ctx, tokenKeyPrefix+token).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, token string) error {
	return c.client.Del(ctx, tokenKeyPrefix+token).Err()
}

// MemoryCache is the in-process TokenCache used when no Redis address is
// configured. Tokens do not survive a restart.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	userID  int64
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryCache) Set(_ context.Context, token string, userID int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = memEntry{userID: userID, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, token string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok {
		return 0, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, token)
		return 0, false, nil
	}
	return e.userID, true, nil
}

func (c *MemoryCache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	return nil
}
