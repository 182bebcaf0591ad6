// Package compliance enforces the messaging-policy checks that gate every
// tenant-initiated outbound send: the anti-spam unanswered cap and the
// 24-hour customer-service window that decides freeform vs. template
// delivery.
package compliance

import (
	"context"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
)

// Route is the delivery mode the provider allows for a send.
type Route string

const (
	// RouteFreeform: the lead wrote in within the service window, any
	// content may be sent.
	RouteFreeform Route = "FREEFORM"
	// RouteTemplate: outside the service window only pre-approved
	// templates are deliverable.
	RouteTemplate Route = "TEMPLATE"
)

// ServiceWindow is how long after an inbound message freeform replies stay
// deliverable.
const ServiceWindow = 24 * time.Hour

// Decision is the outcome of a pre-send policy check.
type Decision struct {
	Allowed bool
	Route   Route
	Reason  string
}

// SettingsProvider supplies per-tenant policy tunables.
type SettingsProvider interface {
	Settings(ctx context.Context, id uuid.UUID) (tenant.Settings, error)
}

// Gateway evaluates outbound sends against tenant policy. All checks fail
// closed: when policy inputs cannot be read the send is denied or downgraded
// to the stricter route.
type Gateway struct {
	settings SettingsProvider
	log      *logger.Logger
	now      func() time.Time
}

// New creates the compliance gateway.
func New(settings SettingsProvider, log *logger.Logger) *Gateway {
	return &Gateway{settings: settings, log: log, now: time.Now}
}

// CanSend decides whether a tenant-initiated scripted send to the lead is
// permitted. Leads that have ignored MaxUnanswered consecutive sends are
// suppressed until they write back.
func (g *Gateway) CanSend(ctx context.Context, lead domain.Lead) (Decision, error) {
	settings, err := g.settings.Settings(ctx, lead.TenantID)
	if err != nil {
		// Fail closed: unreadable policy never authorizes a send.
		g.log.Warn("compliance settings lookup failed, denying send",
			"tenantId", lead.TenantID, "leadId", lead.ID, "error", err)
		return Decision{Allowed: false, Reason: "policy unavailable"}, err
	}
	settings.ApplyDefaults()

	if lead.UnansweredCount >= settings.MaxUnanswered {
		return Decision{Allowed: false, Reason: "unanswered limit reached"}, nil
	}

	return Decision{Allowed: true, Route: g.routeFor(lead)}, nil
}

// ResolveRoute picks the delivery mode for a send that is already
// authorized (AI replies to inbound bursts skip the unanswered cap but
// still honor the service window).
func (g *Gateway) ResolveRoute(lead domain.Lead) Route {
	return g.routeFor(lead)
}

// IsContentAllowed screens outbound content before dispatch. Currently all
// content passes; tenant-level blocklists hook in here.
func (g *Gateway) IsContentAllowed(_ context.Context, _ domain.Lead, _ string) bool {
	return true
}

func (g *Gateway) routeFor(lead domain.Lead) Route {
	// No recorded inbound means the window never opened.
	if lead.LastInboundAt == nil {
		return RouteTemplate
	}
	if g.now().Sub(*lead.LastInboundAt) < ServiceWindow {
		return RouteFreeform
	}
	return RouteTemplate
}
