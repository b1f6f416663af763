package trips

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// memStorage is an in-memory Storage that counts calls and can be made to fail.
type memStorage struct {
	mu      sync.Mutex
	trips   map[string]models.Trip
	loads   int
	saves   int
	saveErr error
}

func newMemStorage() *memStorage { return &memStorage{trips: map[string]models.Trip{}} }

func (m *memStorage) Load(_ context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	t, ok := m.trips[id]
	if !ok {
		return nil, fmt.Errorf("%w: trip %s", models.ErrNotFound, id)
	}
	return &t, nil
}

func (m *memStorage) Save(_ context.Context, trip *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.trips[trip.ID] = *trip
	return nil
}

func newTestCache(store Storage, clock cache.Clock) *Cache {
	return NewCache(store, time.Hour, zap.NewNop(), cache.WithClock(clock), cache.WithCleanupInterval(0))
}

func TestCacheWriteThroughAndReadThrough(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)}
	store := newMemStorage()
	c := newTestCache(store, clock)
	defer c.Close()

	require.NoError(t, c.Put(context.Background(), &models.Trip{ID: "t1", Title: "Tahoe"}))
	assert.Equal(t, 1, store.saves)

	got, err := c.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Tahoe", got.Title)
	assert.Equal(t, 0, store.loads, "fresh entry served from memory")

	clock.Advance(time.Hour + time.Second)
	got, err = c.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Tahoe", got.Title)
	assert.Equal(t, 1, store.loads, "expired entry reloaded from storage")

	_, err = c.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads, "reloaded entry cached again")
}

func TestCachePersistenceFailureKeepsMemory(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newMemStorage()
	store.saveErr = errors.New("connection reset")
	c := newTestCache(store, clock)
	defer c.Close()

	err := c.Put(context.Background(), &models.Trip{ID: "t1", Title: "Tahoe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.saveErr)

	got, err := c.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Tahoe", got.Title)
	assert.Equal(t, 0, store.loads)

	clock.Advance(2 * time.Hour)
	_, err = c.Get(context.Background(), "t1")
	assert.ErrorIs(t, err, models.ErrNotFound, "never persisted, so gone after expiry")
}

func TestCacheMemoryOnly(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(nil, clock)
	defer c.Close()

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, c.Put(context.Background(), &models.Trip{ID: "t1"}))
	assert.Equal(t, 1, c.Len())
	c.Invalidate("t1")
	assert.Equal(t, 0, c.Len())

	assert.ErrorIs(t, c.Put(context.Background(), &models.Trip{}), models.ErrValidation)
}
