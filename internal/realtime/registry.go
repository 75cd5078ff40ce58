package realtime

import (
	"sort"
	"sync"
)

// Registry is the set of currently connected listeners.
//
// It is the only shared mutable state in the fan-out path. The internal map
// is never handed out; callers iterate over a Snapshot instead.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
	metrics *Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		handles: make(map[string]Handle),
		metrics: metrics,
	}
}

// Register adds h and reports whether it was added.
//
// A second handle with an ID that is already present and open is ignored.
// If the present handle has closed, h replaces it. The present handle's
// IsOpen runs outside the lock; the swap only happens if that handle is
// still the one stored.
func (r *Registry) Register(h Handle) bool {
	id := h.ID()

	for {
		r.mu.RLock()
		cur, ok := r.handles[id]
		r.mu.RUnlock()

		if ok && (cur == h || cur.IsOpen()) {
			return false
		}

		r.mu.Lock()
		now, present := r.handles[id]
		if present != ok || (ok && now != cur) {
			// Changed while IsOpen ran; decide again.
			r.mu.Unlock()
			continue
		}
		r.handles[id] = h
		n := len(r.handles)
		r.mu.Unlock()

		r.metrics.listeners(n)
		return true
	}
}

// Remove deletes h if it is the handle stored under h.ID().
// Calling it for an absent or replaced handle is a no-op.
func (r *Registry) Remove(h Handle) bool {
	id := h.ID()

	r.mu.Lock()
	cur, ok := r.handles[id]
	if !ok || cur != h {
		r.mu.Unlock()
		return false
	}
	delete(r.handles, id)
	n := len(r.handles)
	r.mu.Unlock()

	r.metrics.listeners(n)
	return true
}

// Snapshot returns an independent copy of the current membership, ordered
// by handle ID.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
