package alerts

import (
	"context"
	"fmt"
	"runtime/debug"

	"convopilot_backend/internal/metrics"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

// Boundary is the error boundary every background execution path runs
// inside. It converts panics and errors into recorded alerts instead of
// letting them escape: one lead's failure never takes down the process or
// another tenant's traffic.
type Boundary struct {
	recorder Recorder
	mailer   *Mailer
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewBoundary creates the error boundary.
func NewBoundary(recorder Recorder, mailer *Mailer, m *metrics.Metrics, log *logger.Logger) *Boundary {
	return &Boundary{recorder: recorder, mailer: mailer, metrics: m, log: log}
}

// Capture records an incident. Logging always happens; persistence and
// mail are best-effort. Critical alerts go to the operator mailbox.
func (b *Boundary) Capture(ctx context.Context, severity Severity, source, message string, tenantID *uuid.UUID, detail error) {
	var detailText *string
	if detail != nil {
		s := detail.Error()
		detailText = &s
	}

	if severity == SeverityCritical {
		b.log.Error("alert", "source", source, "message", message, "detail", detail)
	} else {
		b.log.Warn("alert", "source", source, "message", message, "detail", detail)
	}
	if b.metrics != nil {
		b.metrics.AlertsRecorded.WithLabelValues(string(severity)).Inc()
	}

	alert := Alert{Severity: severity, Source: source, Message: message, TenantID: tenantID, Detail: detailText}
	if b.recorder != nil {
		recorded, err := b.recorder.Record(ctx, RecordParams{
			TenantID: tenantID,
			Severity: severity,
			Source:   source,
			Message:  message,
			Detail:   detailText,
		})
		if err != nil {
			b.log.Error("alert persist failed", "source", source, "error", err)
		} else {
			alert = recorded
		}
	}

	if severity == SeverityCritical {
		b.mailer.Notify(ctx, alert)
	}
}

// Protect runs fn, converting a panic or returned error into a captured
// alert. It never rethrows.
func (b *Boundary) Protect(ctx context.Context, source string, tenantID *uuid.UUID, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			b.Capture(ctx, SeverityCritical, source, "panic recovered",
				tenantID, fmt.Errorf("%v\n%s", r, debug.Stack()))
		}
	}()

	if err := fn(ctx); err != nil {
		b.Capture(ctx, SeverityWarn, source, "operation failed", tenantID, err)
	}
}
