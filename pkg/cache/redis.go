package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings. Zero fields take defaults.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	// Prefix namespaces every key and index.
	Prefix string
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "patterns"
	}
	return c
}

// RedisCache implements Service on a single Redis node.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects and pings within ctx.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		PoolTimeout:  cfg.PoolTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	return NewRedisCacheFromClient(client, cfg.Prefix), nil
}

// NewRedisCacheFromClient wraps client without pinging it.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Close() error { return c.client.Close() }

// Health pings the server.
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if s, ok := dest.(*string); ok {
		*s = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}

// SetIndexed writes the value and its index entry in one MULTI/EXEC.
func (c *RedisCache) SetIndexed(ctx context.Context, key string, value interface{}, ttl time.Duration, index, member string, score float64) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.key(key), data, ttl)
		p.ZAdd(ctx, c.key(index), redis.Z{Score: score, Member: member})
		return nil
	})
	return err
}

// TopOfIndex returns up to n members, highest score first.
func (c *RedisCache) TopOfIndex(ctx context.Context, index string, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return c.client.ZRevRange(ctx, c.key(index), 0, n-1).Result()
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }

func encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return json.Marshal(v)
}

var _ Service = (*RedisCache)(nil)
