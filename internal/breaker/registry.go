package breaker

import (
	"sync"
	"time"

	"convopilot_backend/platform/logger"
)

// Registry holds one breaker per named dependency. It is an explicit,
// constructor-injected service (created once per process) so tests can
// instantiate isolated instances.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	failureThreshold int
	timeout          time.Duration
	log              *logger.Logger
	opts             []Option
}

// NewRegistry creates a registry whose breakers share the given defaults.
func NewRegistry(failureThreshold int, timeout time.Duration, log *logger.Logger, opts ...Option) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		timeout:          timeout,
		log:              log,
		opts:             opts,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.failureThreshold, r.timeout, r.log, r.opts...)
	r.breakers[name] = b
	return b
}

// Register adds a pre-built breaker, for dependencies with their own
// tunables. It replaces any existing breaker with the same name.
func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.name] = b
}

// States snapshots the current state of every registered breaker.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}

// Reset forces the named breaker closed and reports whether it exists.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
	return ok
}
