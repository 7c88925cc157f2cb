// Package cache provides the short-lived key/value and pub/sub layer used for
// chat stream sessions and enrichment notifications.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// EnrichmentChannel is the pub/sub channel announcing enriched products.
const EnrichmentChannel = "events:enrichment"

const (
	defaultKeyPrefix = "fd:"
	subscriberBuffer = 100
	scanBatch        = 100
)

// Client is the cache and notification contract shared by the Redis and
// in-process drivers.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// GetDel returns the value and removes the key in one step. Of several
	// concurrent callers at most one gets the value.
	GetDel(ctx context.Context, key string) ([]byte, error)
	// DeleteByPrefix removes every key starting with prefix and reports how
	// many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// Publish JSON-encodes message onto channel.
	Publish(ctx context.Context, channel string, message any) error
	// Subscribe delivers raw payloads until the returned cancel func is
	// called or ctx ends, then closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// New returns the cache driver selected by cfg.
func New(cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisClient(cfg.Redis)
	case "", "memory":
		return NewMemoryClient(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}

// SessionKey is the key of an ephemeral chat stream session. An empty id
// yields the prefix shared by all sessions.
func SessionKey(streamID string) string {
	return "chat:session:" + streamID
}

// RedisClient is the Redis driver. Every key and channel is namespaced with
// the configured prefix so several deployments can share one server.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient connects to Redis and verifies the connection. Addr may be
// host:port or a redis:// URL carrying credentials and database.
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisClient{rdb: rdb, prefix: prefix}, nil
}

func redisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if strings.Contains(cfg.Addr, "://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}, nil
}

func (c *RedisClient) key(k string) string { return c.prefix + k }

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (c *RedisClient) GetDel(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.GetDel(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	return val, nil
}

// DeleteByPrefix walks matching keys with SCAN and unlinks them in batches.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var (
		removed int
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis unlink: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, c.key(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, flush()
}

func (c *RedisClient) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.key(channel), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning, so
// messages published afterwards are not lost.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := c.rdb.Subscribe(ctx, c.key(channel))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	context.AfterFunc(ctx, cancel)
	return out, cancel, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
