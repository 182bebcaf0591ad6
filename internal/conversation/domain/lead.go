// Package domain holds the conversation core's domain model: leads,
// messages, provider events, and keyword classification.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lead's position in the conversation flow.
type State string

const (
	StateCold       State = "COLD"
	StateInterested State = "INTERESTED"
	StateDemo       State = "DEMO"
	StateNurturing  State = "NURTURING"
	StateClients    State = "CLIENTS"
)

// Status is the conversation ownership: AI-driven or handed over to a human.
// Status is orthogonal to State; a lead can be in any State while under
// human ownership.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusHandover Status = "HANDOVER"
)

// AgentRole selects which AI persona answers.
type AgentRole string

const (
	RoleCloser       AgentRole = "CLOSER"
	RoleReceptionist AgentRole = "RECEPTIONIST"
	RoleNurturing    AgentRole = "NURTURING"
)

// Lead is one contact's conversation record, scoped to (tenant, phone).
// Never hard-deleted; archival is a tag.
type Lead struct {
	ID                       uuid.UUID
	TenantID                 uuid.UUID
	Phone                    string
	Name                     string
	State                    State
	Status                   Status
	AIEnabled                bool
	UnansweredCount          int
	LastInboundAt            *time.Time
	LastInteraction          *time.Time
	LastBroadcastInteraction *time.Time
	DemoStartedAt            *time.Time
	DemoExpiresAt            *time.Time
	DemoMinutes              int
	NurturingOptInAt         *time.Time
	OnboardingComplete       bool
	Metadata                 map[string]any
	CurrentStageID           *uuid.UUID
	Tags                     []string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DemoExpired reports whether a started demo session has passed its expiry.
func (l *Lead) DemoExpired(now time.Time) bool {
	return l.DemoExpiresAt != nil && now.After(*l.DemoExpiresAt)
}

// Conversation tags applied by the state engine.
const (
	TagInterested    = "interested"
	TagColder        = "colder"
	TagDemoCompleted = "demo_completed"
)
