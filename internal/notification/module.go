// Package notification fans conversation activity out to tenant
// dashboards. It subscribes to domain events and pushes them over SSE, so
// the conversation core never knows who is watching.
package notification

import (
	"context"

	"convopilot_backend/internal/events"
	"convopilot_backend/internal/notification/sse"
	"convopilot_backend/platform/logger"
)

// Module owns the SSE service and its event subscriptions.
type Module struct {
	SSE *sse.Service
	log *logger.Logger
}

// NewModule creates the notification module and wires its subscriptions
// onto the bus.
func NewModule(bus events.Bus, log *logger.Logger) *Module {
	m := &Module{
		SSE: sse.New(log),
		log: log,
	}
	m.subscribe(bus)
	return m
}

func (m *Module) subscribe(bus events.Bus) {
	bus.Subscribe(events.MessageReceived{}.EventName(), events.HandlerFunc(m.onMessageReceived))
	bus.Subscribe(events.MessageSent{}.EventName(), events.HandlerFunc(m.onMessageSent))
	bus.Subscribe(events.HandoverInitiated{}.EventName(), events.HandlerFunc(m.onHandoverInitiated))
	bus.Subscribe(events.HandoverRecovered{}.EventName(), events.HandlerFunc(m.onHandoverRecovered))
	bus.Subscribe(events.LeadStateChanged{}.EventName(), events.HandlerFunc(m.onLeadStateChanged))
	bus.Subscribe(events.LeadConverted{}.EventName(), events.HandlerFunc(m.onLeadConverted))
	bus.Subscribe(events.BuyingSignalDetected{}.EventName(), events.HandlerFunc(m.onBuyingSignal))
}

func (m *Module) onMessageReceived(_ context.Context, e events.Event) error {
	evt, ok := e.(events.MessageReceived)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:   sse.EventMessageReceived,
		LeadID: evt.LeadID,
		Data:   map[string]any{"messageId": evt.MessageID, "content": evt.Content},
	})
	return nil
}

func (m *Module) onMessageSent(_ context.Context, e events.Event) error {
	evt, ok := e.(events.MessageSent)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:   sse.EventMessageSent,
		LeadID: evt.LeadID,
		Data:   map[string]any{"messageId": evt.MessageID, "aiGenerated": evt.AIGenerated},
	})
	return nil
}

func (m *Module) onHandoverInitiated(_ context.Context, e events.Event) error {
	evt, ok := e.(events.HandoverInitiated)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:    sse.EventHandoverInitiated,
		LeadID:  evt.LeadID,
		Message: evt.Reason,
		Data:    map[string]any{"phone": evt.LeadPhone},
	})
	return nil
}

func (m *Module) onHandoverRecovered(_ context.Context, e events.Event) error {
	evt, ok := e.(events.HandoverRecovered)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:   sse.EventHandoverRecovered,
		LeadID: evt.LeadID,
	})
	return nil
}

func (m *Module) onLeadStateChanged(_ context.Context, e events.Event) error {
	evt, ok := e.(events.LeadStateChanged)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:   sse.EventStateChanged,
		LeadID: evt.LeadID,
		Data:   map[string]any{"from": evt.OldState, "to": evt.NewState},
	})
	return nil
}

func (m *Module) onLeadConverted(_ context.Context, e events.Event) error {
	evt, ok := e.(events.LeadConverted)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:   sse.EventLeadConverted,
		LeadID: evt.LeadID,
	})
	return nil
}

func (m *Module) onBuyingSignal(_ context.Context, e events.Event) error {
	evt, ok := e.(events.BuyingSignalDetected)
	if !ok {
		return nil
	}
	m.SSE.Publish(evt.TenantID, sse.Event{
		Type:   sse.EventBuyingSignal,
		LeadID: evt.LeadID,
		Data:   map[string]any{"content": evt.Content},
	})
	return nil
}

// Close releases SSE connections.
func (m *Module) Close() {
	m.SSE.Close()
}
