package events

import (
	"github.com/google/uuid"
)

// MessageReceived is published after an inbound message is persisted.
type MessageReceived struct {
	BaseEvent
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	MessageID uuid.UUID
	Content   string
}

// EventName returns the event identifier.
func (MessageReceived) EventName() string { return "conversation.message_received" }

// MessageSent is published after an outbound message row is created.
type MessageSent struct {
	BaseEvent
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	MessageID   uuid.UUID
	AIGenerated bool
	Stage       string
}

// EventName returns the event identifier.
func (MessageSent) EventName() string { return "conversation.message_sent" }

// HandoverInitiated is published when conversation ownership moves to a
// human operator.
type HandoverInitiated struct {
	BaseEvent
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	LeadPhone string
	Reason    string
}

// EventName returns the event identifier.
func (HandoverInitiated) EventName() string { return "conversation.handover_initiated" }

// HandoverRecovered is published when the recovery job re-enables the AI.
type HandoverRecovered struct {
	BaseEvent
	TenantID uuid.UUID
	LeadID   uuid.UUID
}

// EventName returns the event identifier.
func (HandoverRecovered) EventName() string { return "conversation.handover_recovered" }

// LeadStateChanged is published on every state engine transition.
type LeadStateChanged struct {
	BaseEvent
	TenantID uuid.UUID
	LeadID   uuid.UUID
	OldState string
	NewState string
}

// EventName returns the event identifier.
func (LeadStateChanged) EventName() string { return "conversation.lead_state_changed" }

// BuyingSignalDetected is published when intent classification reads
// concrete purchase interest in an inbound burst.
type BuyingSignalDetected struct {
	BaseEvent
	TenantID uuid.UUID
	LeadID   uuid.UUID
	Content  string
}

// EventName returns the event identifier.
func (BuyingSignalDetected) EventName() string { return "conversation.buying_signal_detected" }

// LeadConverted is published when a lead reaches the CLIENTS state.
type LeadConverted struct {
	BaseEvent
	TenantID uuid.UUID
	LeadID   uuid.UUID
}

// EventName returns the event identifier.
func (LeadConverted) EventName() string { return "conversation.lead_converted" }

// CircuitOpened is published when a circuit breaker trips open.
type CircuitOpened struct {
	BaseEvent
	Breaker  string
	Failures int
}

// EventName returns the event identifier.
func (CircuitOpened) EventName() string { return "resilience.circuit_opened" }
