package breaker

import (
	"sync"
	"time"
)

// wellKnownDefaults are built-in configurations for services this system
// names explicitly, so callers don't have to rediscover reasonable
// thresholds for them.
var wellKnownDefaults = map[string]Config{
	"email_service": {
		FailureThreshold: 3, SuccessThreshold: 1,
		OpenTimeout: time.Minute, ResetTimeout: 10 * time.Minute,
	},
	"payment_gateway": {
		FailureThreshold: 2, SuccessThreshold: 2,
		OpenTimeout: 30 * time.Second, ResetTimeout: 5 * time.Minute,
	},
	"external_api": {
		FailureThreshold: 5, SuccessThreshold: 2,
		OpenTimeout: 15 * time.Second, ResetTimeout: 2 * time.Minute,
	},
	"database": {
		FailureThreshold: 3, SuccessThreshold: 3,
		OpenTimeout: 10 * time.Second, ResetTimeout: time.Minute,
	},
}

// Registry owns one Breaker per name, creating it lazily on first lookup
// using the well-known default for that name if one exists, or the
// library default otherwise.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Configure installs cfg for name, replacing any existing breaker for it.
// Call before first use; calling it after Get has handed out a *Breaker
// for name creates a new breaker instance under the same name, which
// existing holders of the old instance won't observe.
func (r *Registry) Configure(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := newBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name, creating it with the well-known
// default (or the library default) if it doesn't exist yet.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := wellKnownDefaults[name]
	if !ok {
		cfg = defaultConfig()
	}
	b = newBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// Status returns the status of every breaker currently registered.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Status())
	}
	return out
}
