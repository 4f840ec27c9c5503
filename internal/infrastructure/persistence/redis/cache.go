// Package redis holds the optional Redis layer: a read-through cache of
// progress records and the short leases that keep concurrent mints of the
// same credential apart. The server runs without it when Redis is absent.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/shadow-ranch/config"
)

var (
	ErrCacheMiss       = errors.New("cache: key not found")
	ErrCacheConnection = errors.New("cache: connection failed")
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")
	ErrCacheKeyEmpty   = errors.New("cache: key cannot be empty")
	ErrCacheMalformed  = errors.New("cache: malformed versioned value")
)

const (
	// TTLRecordCache applies when REDIS_RECORD_TTL is not positive.
	TTLRecordCache = 10 * time.Minute
	// TTLMintLock is the default mint lease.
	TTLMintLock = 30 * time.Second
)

// ProgressKey is where the record stored at address is cached.
func ProgressKey(address string) string { return "progress:" + address }

// LockKey is where the lease on resource lives.
func LockKey(resource string) string { return "lock:" + resource }

// ═══════════════════════════════════════════════════════════════════════════
// CONNECTION
// ═══════════════════════════════════════════════════════════════════════════

// clientOptions builds go-redis options. REDIS_URL wins over host and port;
// pool and timeout settings apply in both cases when positive.
func clientOptions(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	setInt(&opts.PoolSize, cfg.PoolSize)
	setInt(&opts.MinIdleConns, cfg.MinIdleConns)
	setDur(&opts.DialTimeout, cfg.DialTimeout)
	setDur(&opts.ReadTimeout, cfg.ReadTimeout)
	setDur(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

// Cache is a thin byte-oriented wrapper over a go-redis client.
type Cache struct {
	client *redis.Client
}

// NewCache connects and pings once within the dial timeout.
func NewCache(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	wait := opts.DialTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps client without pinging it.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the connection for Pub/Sub.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// ═══════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════

// SetBytes stores value under key. ttl 0 keeps the key forever.
func (c *Cache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case ttl < 0:
		return ErrCacheInvalidTTL
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// GetBytes returns ErrCacheMiss when key is absent.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	return c.client.Del(ctx, key).Err()
}

// SetNX stores value only when key is free. A lease needs a positive ttl.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	switch {
	case key == "":
		return false, ErrCacheKeyEmpty
	case ttl <= 0:
		return false, ErrCacheInvalidTTL
	}
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

var deleteIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DeleteIfEquals removes key while it still holds value and reports
// whether it did.
func (c *Cache) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	n, err := deleteIfOwner.Run(ctx, c.client, []string{key}, value).Int()
	return n == 1, err
}

// versionWidth is the length of the hex version prefix of a versioned value.
const versionWidth = 16

// setUnlessNewer writes ARGV[1] unless the stored value carries a higher
// version prefix. Values without a well-formed prefix are overwritten.
var setUnlessNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and string.len(cur) >= 16 then
	local v = string.sub(cur, 1, 16)
	if string.find(v, "^%x+$") and v > ARGV[2] then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// SetVersioned stores value under key tagged with version. A write whose
// version is lower than the stored one is dropped and reported as false.
func (c *Cache) SetVersioned(ctx context.Context, key string, version uint64, value []byte, ttl time.Duration) (bool, error) {
	switch {
	case key == "":
		return false, ErrCacheKeyEmpty
	case ttl <= 0:
		return false, ErrCacheInvalidTTL
	}
	tag := fmt.Sprintf("%0*x", versionWidth, version)
	payload := append([]byte(tag), value...)
	n, err := setUnlessNewer.Run(ctx, c.client, []string{key}, payload, tag, ttl.Milliseconds()).Int()
	return n == 1, err
}

// GetVersioned returns a value written by SetVersioned without its version.
// A value too short to carry the prefix is reported as ErrCacheMalformed.
func (c *Cache) GetVersioned(ctx context.Context, key string) ([]byte, error) {
	data, err := c.GetBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) < versionWidth {
		return nil, ErrCacheMalformed
	}
	return data[versionWidth:], nil
}
