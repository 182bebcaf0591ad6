package domain

import (
	"encoding/json"
	"time"
)

// ProviderEvent is the tagged union of everything the webhook can deliver.
// The switch in the orchestrator is exhaustive over these variants; payloads
// the normalizer does not recognize arrive as UnrecognizedEvent instead of
// an untyped blob.
type ProviderEvent interface {
	providerEvent()
	EventTimestamp() time.Time
}

// InboundMessageEvent is a message typed by the lead.
type InboundMessageEvent struct {
	From        string
	ProviderID  string
	Timestamp   time.Time
	Type        MessageType
	Text        string
	ButtonID    string
	ButtonTitle string
}

// OutboundEchoEvent is an outbound message echoed back by the provider,
// including messages typed manually by the tenant from their own device.
// Silent human takeover is detected on these.
type OutboundEchoEvent struct {
	To         string
	ProviderID string
	Timestamp  time.Time
	Text       string
}

// StatusUpdateEvent is a delivery receipt for an outbound message.
type StatusUpdateEvent struct {
	ProviderID string
	Status     string
	Timestamp  time.Time
}

// UnrecognizedEvent carries the raw payload of anything the normalizer
// could not classify, for diagnostics.
type UnrecognizedEvent struct {
	Kind      string
	Timestamp time.Time
	Raw       json.RawMessage
}

func (InboundMessageEvent) providerEvent() {}
func (OutboundEchoEvent) providerEvent()   {}
func (StatusUpdateEvent) providerEvent()   {}
func (UnrecognizedEvent) providerEvent()   {}

func (e InboundMessageEvent) EventTimestamp() time.Time { return e.Timestamp }
func (e OutboundEchoEvent) EventTimestamp() time.Time   { return e.Timestamp }
func (e StatusUpdateEvent) EventTimestamp() time.Time   { return e.Timestamp }
func (e UnrecognizedEvent) EventTimestamp() time.Time   { return e.Timestamp }
