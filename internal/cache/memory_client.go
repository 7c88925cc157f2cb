package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryClient implements an in-process cache and pub/sub broker for
// development and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int

	subMu  sync.Mutex
	subs   map[string]map[int]chan []byte
	nextID int

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}

	c := &MemoryClient{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		subs:    make(map[string]map[int]chan []byte),
		stop:    make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || entry.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL. A zero TTL never expires.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// GetDel retrieves and removes a value under a single lock.
func (c *MemoryClient) GetDel(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	delete(c.data, key)
	if entry.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryClient) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
			removed++
		}
	}
	return removed, nil
}

// Publish delivers message to current subscribers. Slow subscribers drop
// messages rather than block the publisher.
func (c *MemoryClient) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs[channel] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel. The subscription ends when
// the returned func is called, ctx ends or the client is closed.
func (c *MemoryClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[int]chan []byte)
	}
	c.subs[channel][id] = ch
	c.subMu.Unlock()

	unsubscribe := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[channel][id]; ok {
			delete(c.subs[channel], id)
			close(ch)
		}
	}
	stopWatch := context.AfterFunc(ctx, unsubscribe)

	return ch, func() {
		stopWatch()
		unsubscribe()
	}, nil
}

// Close stops the cleanup loop and ends every subscription.
func (c *MemoryClient) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)

		c.subMu.Lock()
		defer c.subMu.Unlock()
		for channel, subs := range c.subs {
			for _, ch := range subs {
				close(ch)
			}
			delete(c.subs, channel)
		}
	})
	return nil
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// evictOldest removes the entry with the earliest expiration.
func (c *MemoryClient) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.data {
		if entry.expiresAt.IsZero() {
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}
	if oldestKey == "" {
		for key := range c.data {
			oldestKey = key
			break
		}
	}
	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

// cleanup periodically removes expired entries.
func (c *MemoryClient) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.data {
				if entry.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
