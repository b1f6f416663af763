package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time. Injected so expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// CacheMetrics tracks cache performance
type CacheMetrics struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

// UnifiedCache is a generic TTL cache that works with any type
type UnifiedCache[T any] struct {
	mu      sync.Mutex
	items   map[string]cacheEntry[T]
	ttl     time.Duration
	name    string // For logging/debugging
	metrics CacheMetrics
	logger  *zap.Logger
	clock   Clock
	stop    chan struct{}
	once    sync.Once
}

type cacheEntry[T any] struct {
	value      T
	expiration time.Time
}

// Option customizes a UnifiedCache.
type Option func(*options)

type options struct {
	clock           Clock
	cleanupInterval time.Duration
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCleanupInterval sets how often expired entries are swept. Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// NewUnifiedCache creates a new generic cache with specified TTL and name
func NewUnifiedCache[T any](ttl time.Duration, name string, logger *zap.Logger, opts ...Option) *UnifiedCache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: SystemClock, cleanupInterval: ttl / 2}
	for _, opt := range opts {
		opt(&o)
	}
	c := &UnifiedCache[T]{
		items:  make(map[string]cacheEntry[T]),
		ttl:    ttl,
		name:   name,
		logger: logger,
		clock:  o.clock,
		stop:   make(chan struct{}),
	}
	if o.cleanupInterval > 0 {
		go c.cleanup(o.cleanupInterval)
	}
	return c
}

// Set stores an item in the cache with the given key
func (c *UnifiedCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = cacheEntry[T]{
		value:      value,
		expiration: c.clock.Now().Add(c.ttl),
	}
	c.metrics.Sets++

	c.logger.Debug("Cache set",
		zap.String("cache", c.name),
		zap.String("key", key),
		zap.Duration("ttl", c.ttl),
	)
}

// Get retrieves an item from the cache. Expired entries are evicted on read.
func (c *UnifiedCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	item, found := c.items[key]
	if !found {
		c.metrics.Misses++
		c.logger.Debug("Cache miss",
			zap.String("cache", c.name),
			zap.String("key", key),
		)
		return zero, false
	}

	if c.clock.Now().After(item.expiration) {
		delete(c.items, key)
		c.metrics.Misses++
		c.metrics.Evictions++
		c.logger.Debug("Cache expired",
			zap.String("cache", c.name),
			zap.String("key", key),
		)
		return zero, false
	}

	c.metrics.Hits++
	c.logger.Debug("Cache hit",
		zap.String("cache", c.name),
		zap.String("key", key),
	)
	return item.value, true
}

// Delete removes an item from the cache
func (c *UnifiedCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	c.logger.Debug("Cache delete",
		zap.String("cache", c.name),
		zap.String("key", key),
	)
}

// Clear removes all items from the cache
func (c *UnifiedCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]cacheEntry[T])
	c.logger.Info("Cache cleared",
		zap.String("cache", c.name),
	)
}

// GetMetrics returns current cache metrics
func (c *UnifiedCache[T]) GetMetrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Size returns the number of items in the cache, expired or not.
func (c *UnifiedCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the background sweeper.
func (c *UnifiedCache[T]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Sweep removes expired items and returns how many were removed.
func (c *UnifiedCache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	expiredCount := 0
	for key, item := range c.items {
		if now.After(item.expiration) {
			delete(c.items, key)
			expiredCount++
		}
	}
	c.metrics.Evictions += int64(expiredCount)

	if expiredCount > 0 {
		c.logger.Info("Cache cleanup",
			zap.String("cache", c.name),
			zap.Int("expired_items", expiredCount),
			zap.Int("remaining_items", len(c.items)),
		)
	}
	return expiredCount
}

func (c *UnifiedCache[T]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// KeyFor builds a stable MD5 key from JSON-marshalable components.
func KeyFor(components ...any) (string, error) {
	jsonBytes, err := json.Marshal(components)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key components: %w", err)
	}
	hash := md5.Sum(jsonBytes)
	return hex.EncodeToString(hash[:]), nil
}
