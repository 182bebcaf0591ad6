package alerts

import (
	"context"
	"fmt"

	"convopilot_backend/internal/events"
)

// BreakerNotifier turns a tripped circuit breaker into a critical alert
// and a published domain event.
type BreakerNotifier struct {
	boundary *Boundary
	bus      events.Bus
}

// NewBreakerNotifier creates the breaker notification sink.
func NewBreakerNotifier(boundary *Boundary, bus events.Bus) *BreakerNotifier {
	return &BreakerNotifier{boundary: boundary, bus: bus}
}

// NotifyCircuitOpen is invoked off the breaker's hot path when a circuit
// trips open.
func (n *BreakerNotifier) NotifyCircuitOpen(ctx context.Context, name string, failures int) {
	n.boundary.Capture(ctx, SeverityCritical, "breaker:"+name,
		fmt.Sprintf("circuit opened after %d consecutive failures", failures), nil, nil)

	if n.bus != nil {
		n.bus.Publish(ctx, events.CircuitOpened{
			BaseEvent: events.NewBaseEvent(),
			Breaker:   name,
			Failures:  failures,
		})
	}
}
