package resilience

import (
	"sort"
	"sync"
)

// Registry owns one circuit breaker per named dependency. Breakers are created lazily
// on first lookup; concurrent first lookups of the same name share one breaker.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the existing breaker for name or creates one from cfg.
// cfg is ignored when the breaker already exists.
func (r *Registry) GetOrCreate(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	cfg.Name = name
	cb = NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}

// Snapshot returns the state of every registered breaker, ordered by name.
func (r *Registry) Snapshot() []BreakerSnapshot {
	breakers := r.all()

	snapshots := make([]BreakerSnapshot, 0, len(breakers))
	for _, cb := range breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots
}

// Reset forces every registered breaker closed. Breakers stay registered, so holders
// of a breaker see the reset.
func (r *Registry) Reset() {
	for _, cb := range r.all() {
		cb.Reset()
	}
}

func (r *Registry) all() []*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	return breakers
}
