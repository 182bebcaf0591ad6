// Package breaker implements a three-state circuit breaker guarding calls
// to fallible external dependencies.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"convopilot_backend/platform/logger"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state label used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// OpenError is returned when the breaker rejects a call without invoking
// the wrapped function.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// IsOpen reports whether err is a breaker fail-fast rejection.
func IsOpen(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}

// Notifier receives open-transition notifications. Implementations must
// tolerate being called from a background goroutine; notification failures
// never propagate to callers.
type Notifier interface {
	NotifyCircuitOpen(ctx context.Context, name string, failures int)
}

// Breaker wraps a named dependency. State is in-process only and rebuilt
// closed on restart.
type Breaker struct {
	name             string
	failureThreshold int
	timeout          time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	now      func() time.Time
	notifier Notifier
	onState  func(name string, s State)
	log      *logger.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithNotifier sets the open-transition notifier.
func WithNotifier(n Notifier) Option {
	return func(b *Breaker) { b.notifier = n }
}

// WithStateHook sets a callback invoked on every state change, used for
// metrics.
func WithStateHook(fn func(name string, s State)) Option {
	return func(b *Breaker) { b.onState = fn }
}

// New creates a breaker. A failureThreshold below 1 defaults to 5, a
// non-positive timeout to 30 seconds.
func New(name string, failureThreshold int, timeout time.Duration, log *logger.Logger, opts ...Option) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            StateClosed,
		now:              time.Now,
		log:              log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn under the breaker. If the breaker is open and the cooldown
// has not elapsed, it fails fast with *OpenError without invoking fn. The
// first call after the cooldown runs in half-open: success closes the
// breaker, failure re-opens it.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterCall(ctx, err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed with a zero failure count. Operational
// override.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.probing = false
}

func (b *Breaker) beforeCall(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		// Only a single probe is allowed while half-open.
		if b.probing {
			return &OpenError{Name: b.name}
		}
		b.probing = true
		return nil
	default:
		if b.now().Sub(b.lastFailure) >= b.timeout {
			b.setState(StateHalfOpen)
			b.probing = true
			return nil
		}
		return &OpenError{Name: b.name}
	}
}

func (b *Breaker) afterCall(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err == nil {
		// Success in half-open fully closes; success in closed resets the
		// consecutive failure counter.
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()

	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		if b.state != StateOpen {
			b.setState(StateOpen)
			b.notifyOpen(ctx)
		}
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.log != nil {
		b.log.Warn("circuit breaker state change", "breaker", b.name, "state", s.String())
	}
	if b.onState != nil {
		b.onState(b.name, s)
	}
}

// notifyOpen fires the open notification asynchronously; a panicking or
// failing notifier never reaches the caller. Called with b.mu held, so the
// goroutine snapshots what it needs first.
func (b *Breaker) notifyOpen(ctx context.Context) {
	if b.notifier == nil {
		return
	}
	name, failures := b.name, b.failures
	notifier := b.notifier
	go func() {
		defer func() {
			if r := recover(); r != nil && b.log != nil {
				b.log.Error("circuit breaker notifier panic", "breaker", name, "panic", r)
			}
		}()
		notifier.NotifyCircuitOpen(context.WithoutCancel(ctx), name, failures)
	}()
}

// Execute runs fn under the breaker and returns its typed result. A fail-fast
// rejection returns the zero value and *OpenError.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
