package host

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/nerrad567/gridhost/internal/infrastructure/cache"
)

// CachedRepository serves GetHost and GetGrid from an in-process cache and
// falls through to the wrapped Repository on a miss. Lists are not cached.
//
// Every grid update bumps a generation counter. A grid loaded on a miss is
// only cached if no update finished while it was being read, so a slow
// reader cannot put a grid older than the stored row back in the cache.
type CachedRepository struct {
	Repository
	cache *cache.Cache

	mu      sync.Mutex
	gridGen uint64
}

// NewCachedRepository wraps inner with c.
func NewCachedRepository(inner Repository, c *cache.Cache) *CachedRepository {
	return &CachedRepository{Repository: inner, cache: c}
}

func hostKey(id string) string { return "host:" + id }
func gridKey(id string) string { return "grid:" + id }

// GetHost returns the cached host or loads and caches it.
func (r *CachedRepository) GetHost(ctx context.Context, id string) (*Host, error) {
	var h Host
	if r.load(hostKey(id), &h) {
		return &h, nil
	}
	loaded, err := r.Repository.GetHost(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(hostKey(id), loaded)
	return loaded, nil
}

// GetGrid returns the cached grid or loads and caches it.
func (r *CachedRepository) GetGrid(ctx context.Context, id string) (*Grid, error) {
	var g Grid
	if r.load(gridKey(id), &g) {
		return &g, nil
	}

	r.mu.Lock()
	gen := r.gridGen
	r.mu.Unlock()

	loaded, err := r.Repository.GetGrid(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gridGen == gen {
		r.store(gridKey(id), loaded)
	}
	r.mu.Unlock()
	return loaded, nil
}

// UpdateGrid writes through and evicts the grid's cache entry.
func (r *CachedRepository) UpdateGrid(ctx context.Context, g *Grid) error {
	err := r.Repository.UpdateGrid(ctx, g)

	r.mu.Lock()
	r.gridGen++
	r.cache.Delete(gridKey(g.ID))
	r.mu.Unlock()
	return err
}

// load decodes a cached entry into v. Undecodable entries count as misses.
func (r *CachedRepository) load(key string, v any) bool {
	b, ok := r.cache.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		r.cache.Delete(key)
		return false
	}
	return true
}

func (r *CachedRepository) store(key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.cache.Set(key, b)
}
