package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a message turn.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// MessageType distinguishes free text from interactive button replies.
type MessageType string

const (
	TypeText           MessageType = "TEXT"
	TypeButtonResponse MessageType = "BUTTON_RESPONSE"
)

// DeliveryStatus tracks the provider-side lifecycle of an outbound message.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRead      DeliveryStatus = "READ"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Message is an immutable record of one inbound or outbound turn. The
// provider message ID, when present, is the idempotency key: redelivery of
// the same ID never creates a second row.
type Message struct {
	ID                uuid.UUID
	LeadID            uuid.UUID
	TenantID          uuid.UUID
	Direction         Direction
	Content           string
	ProviderMessageID *string
	Type              MessageType
	ButtonID          *string
	IsProcessed       bool
	AIGenerated       bool
	Status            DeliveryStatus
	WasRead           bool
	CampaignStage     *string
	CreatedAt         time.Time
}
