package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш; prefix добавляется ко всем ключам.
func NewRedis(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get возвращает значение или domain.ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "cache", start, nil)
		return nil, domain.ErrCacheMiss
	}
	metrics.ObserveNetworkRequest("redis", "get", "cache", start, err)
	return val, err
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", "cache", start, err)
	return err
}

// ErrLocked возвращается WithLock, если ключ удерживает другой процесс.
var ErrLocked = errors.New("lock is held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WithLock выполняет fn под распределённой блокировкой key.
// ttl ограничивает время жизни блокировки, если процесс упадёт, не сняв её.
func (c *RedisCache) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	token := uuid.NewString()
	start := time.Now()
	ok, err := c.client.SetNX(ctx, c.prefix+key, token, ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "lock", start, err)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		start := time.Now()
		err := releaseScript.Run(context.WithoutCancel(ctx), c.client, []string{c.prefix + key}, token).Err()
		metrics.ObserveNetworkRequest("redis", "eval", "lock", start, err)
	}()
	return fn(ctx)
}
