// Package shutdown coordinates graceful process termination.
// This is part of the platform layer and contains no business logic.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"convopilot_backend/platform/logger"
)

// Handler is a named cleanup step run during shutdown.
type Handler struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Coordinator registers cleanup handlers and runs them in reverse
// registration order when the process is asked to terminate. Each handler
// runs independently; one handler failing or panicking does not block the
// next. The whole drain is bounded by a hard timeout.
type Coordinator struct {
	mu       sync.Mutex
	handlers []Handler
	timeout  time.Duration
	log      *logger.Logger
	once     sync.Once
	done     chan struct{}
}

// New creates a shutdown coordinator with the given hard drain timeout.
func New(timeout time.Duration, log *logger.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup handler. Handlers run in reverse registration
// order, so register outermost resources (HTTP server) last.
func (c *Coordinator) Register(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, Handler{Name: name, Fn: fn})
}

// Notify returns a context cancelled on SIGINT/SIGTERM, registering the
// signal hookup exactly once.
func (c *Coordinator) Notify(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Run drains all registered handlers. It is safe to call from multiple
// goroutines; only the first call performs the drain. If the drain exceeds
// the hard timeout the remaining handlers are abandoned.
func (c *Coordinator) Run() {
	c.once.Do(func() {
		defer close(c.done)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		handlers := make([]Handler, len(c.handlers))
		copy(handlers, c.handlers)
		c.mu.Unlock()

		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			if ctx.Err() != nil {
				c.log.Error("shutdown timeout exceeded, abandoning remaining handlers", "remaining", i+1)
				return
			}
			c.runOne(ctx, h)
		}
		c.log.Info("shutdown complete")
	})
}

// RunAndExit drains handlers and terminates the process. exitCode is
// non-zero for abnormal termination (uncaught panic path).
func (c *Coordinator) RunAndExit(exitCode int) {
	c.Run()
	os.Exit(exitCode)
}

// Done is closed once the drain has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) runOne(ctx context.Context, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("shutdown handler panic", "handler", h.Name, "panic", r)
		}
	}()

	finished := make(chan error, 1)
	go func() {
		finished <- h.Fn(ctx)
	}()

	select {
	case err := <-finished:
		if err != nil {
			c.log.Error("shutdown handler failed", "handler", h.Name, "error", err)
			return
		}
		c.log.Info("shutdown handler finished", "handler", h.Name)
	case <-ctx.Done():
		c.log.Error("shutdown handler timed out", "handler", h.Name)
	}
}
