package circuit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/warden/internal/store"
)

// Registry hands out one Breaker per dependency name within a namespace.
// Breakers never share state across names.
type Registry struct {
	mu        sync.Mutex
	namespace string
	cfg       Config
	store     store.Store
	clock     func() time.Time
	logger    *slog.Logger
	breakers  map[string]*Breaker
}

type RegistryOption func(*Registry)

func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

func NewRegistry(namespace string, cfg Config, st store.Store, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		namespace: namespace,
		cfg:       cfg,
		store:     st,
		clock:     time.Now,
		logger:    logger,
		breakers:  make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the breaker for a dependency, creating it on first use.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(r.namespace, name, r.cfg, r.store, r.clock, r.logger)
		r.breakers[name] = b
	}
	return b
}

// States reports the current state of every known breaker, for health
// reporting.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
