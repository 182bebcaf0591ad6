// Package alerts records operational incidents (panics, tripped breakers,
// failed sends) and notifies operators on the critical ones.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one recorded incident.
type Alert struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	Severity  Severity
	Source    string
	Message   string
	Detail    *string
	CreatedAt time.Time
}

// RecordParams creates a new alert row.
type RecordParams struct {
	TenantID *uuid.UUID
	Severity Severity
	Source   string
	Message  string
	Detail   *string
}
