// Package buffer coalesces rapid-fire inbound messages from the same lead
// into a single processing pass, so one AI round-trip covers a burst of
// keystroke-like fragments.
package buffer

import (
	"context"
	"sync"
	"time"

	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

// ProcessFunc handles one quiet-period expiry for a (tenant, phone) key.
type ProcessFunc func(ctx context.Context, tenantID uuid.UUID, phone string)

// Key identifies one buffered conversation.
type Key struct {
	TenantID uuid.UUID
	Phone    string
}

type entry struct {
	timer      *time.Timer
	processing bool
	rearm      bool
}

// Service debounces burst processing per (tenant, phone) key. Each
// ScheduleProcessing call while a timer is pending re-arms it; when the
// quiet period elapses the process function runs exactly once for that
// cycle. At most one processing pass is in flight per key: a message
// arriving mid-pass arms the timer for the next cycle instead of
// interleaving.
type Service struct {
	mu      sync.Mutex
	entries map[Key]*entry

	quietPeriod time.Duration
	process     ProcessFunc
	log         *logger.Logger
	onPending   func(delta int)
	closed      bool
}

// Option configures the Service.
type Option func(*Service)

// WithPendingHook observes pending-timer count changes, used for metrics.
func WithPendingHook(fn func(delta int)) Option {
	return func(s *Service) { s.onPending = fn }
}

// New creates a buffer service. A non-positive quiet period defaults to 8s.
func New(quietPeriod time.Duration, process ProcessFunc, log *logger.Logger, opts ...Option) *Service {
	if quietPeriod <= 0 {
		quietPeriod = 8 * time.Second
	}
	s := &Service{
		entries:     make(map[Key]*entry),
		quietPeriod: quietPeriod,
		process:     process,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleProcessing arms (or re-arms) the quiet-period timer for the key.
func (s *Service) ScheduleProcessing(tenantID uuid.UUID, phone string) {
	key := Key{TenantID: tenantID, Phone: phone}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}

	if e.processing {
		// Captured for the next cycle once the in-flight pass finishes.
		e.rearm = true
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	} else {
		s.pendingDelta(1)
	}
	e.timer = time.AfterFunc(s.quietPeriod, func() { s.fire(key) })
}

// Pending returns the number of keys with an armed timer or an in-flight
// pass. Intended for tests and introspection.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops all pending timers. In-flight passes finish; no new cycle
// starts afterwards.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
			s.pendingDelta(-1)
		}
		if !e.processing {
			delete(s.entries, key)
		}
	}
}

func (s *Service) fire(key Key) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	e.processing = true
	s.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("burst processing panic", "tenant_id", key.TenantID, "phone", key.Phone, "panic", r)
			}
		}()
		s.process(context.Background(), key.TenantID, key.Phone)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	e.processing = false
	if e.rearm && !s.closed {
		e.rearm = false
		e.timer = time.AfterFunc(s.quietPeriod, func() { s.fire(key) })
		return
	}
	delete(s.entries, key)
	s.pendingDelta(-1)
}

// pendingDelta must be called with s.mu held.
func (s *Service) pendingDelta(delta int) {
	if s.onPending != nil {
		s.onPending(delta)
	}
}
