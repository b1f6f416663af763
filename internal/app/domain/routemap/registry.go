package routemap

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// SceneRegistry keeps one Scene per browser map view. Idle views expire and the renderer
// forgets them on eviction.
type SceneRegistry struct {
	views *cache.Cache
}

// NewSceneRegistry creates a registry whose views expire after ttl of inactivity.
func NewSceneRegistry(renderer *Renderer, ttl time.Duration) *SceneRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	views := cache.New(ttl, ttl/2)
	views.OnEvicted(func(_ string, v interface{}) {
		if s, ok := v.(*Scene); ok && renderer != nil {
			renderer.Clear(s)
		}
	})
	return &SceneRegistry{views: views}
}

// Acquire returns the scene for viewID, or a fresh scene under a new view ID when viewID is
// empty or unknown. Every call refreshes the view's expiry.
func (r *SceneRegistry) Acquire(viewID string) (string, *Scene) {
	if viewID != "" {
		if v, ok := r.views.Get(viewID); ok {
			s := v.(*Scene)
			r.views.SetDefault(viewID, s)
			return viewID, s
		}
	}
	id := uuid.NewString()
	s := NewScene()
	r.views.SetDefault(id, s)
	return id, s
}

// Lookup returns an existing scene without creating one.
func (r *SceneRegistry) Lookup(viewID string) (*Scene, bool) {
	v, ok := r.views.Get(viewID)
	if !ok {
		return nil, false
	}
	return v.(*Scene), true
}

// Release drops a view and tears down what was drawn on it.
func (r *SceneRegistry) Release(viewID string) {
	r.views.Delete(viewID)
}

// Len is the number of live views.
func (r *SceneRegistry) Len() int {
	return r.views.ItemCount()
}
