package trips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/cache"
)

// Storage persists trips. Load returns an error wrapping models.ErrNotFound for unknown IDs.
type Storage interface {
	Load(ctx context.Context, id string) (*models.Trip, error)
	Save(ctx context.Context, trip *models.Trip) error
}

// Cache keeps recently used trips in memory for a fixed TTL, reads through to storage on a
// miss and writes through to storage on every Put.
type Cache struct {
	mem    *cache.UnifiedCache[*models.Trip]
	store  Storage
	logger *zap.Logger
}

// NewCache creates a Cache. store may be nil for a memory-only cache.
func NewCache(store Storage, ttl time.Duration, logger *zap.Logger, opts ...cache.Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		mem:    cache.NewUnifiedCache[*models.Trip](ttl, "trips", logger, opts...),
		store:  store,
		logger: logger,
	}
}

// Get returns the trip with id from memory or, on a miss or expiry, from storage.
func (c *Cache) Get(ctx context.Context, id string) (*models.Trip, error) {
	if t, ok := c.mem.Get(id); ok {
		return t, nil
	}
	if c.store == nil {
		return nil, fmt.Errorf("%w: trip %s", models.ErrNotFound, id)
	}
	t, err := c.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading trip %s: %w", id, err)
	}
	c.mem.Set(id, t)
	return t, nil
}

// Put stores trip in memory and persists it. When persisting fails the memory entry is kept
// and the error is returned.
func (c *Cache) Put(ctx context.Context, trip *models.Trip) error {
	if trip == nil || trip.ID == "" {
		return fmt.Errorf("%w: trip without id", models.ErrValidation)
	}
	c.mem.Set(trip.ID, trip)
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, trip); err != nil {
		c.logger.Warn("Trip persisted in memory only", zap.String("trip_id", trip.ID), zap.Error(err))
		return fmt.Errorf("persisting trip %s: %w", trip.ID, err)
	}
	return nil
}

// Invalidate drops id from memory.
func (c *Cache) Invalidate(id string) { c.mem.Delete(id) }

// Len is the number of trips held in memory.
func (c *Cache) Len() int { return c.mem.Size() }

// Close stops the expiry sweeper.
func (c *Cache) Close() { c.mem.Close() }
