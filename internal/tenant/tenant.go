// Package tenant provides tenant identity, per-tenant tunables, and
// keyword configuration for the conversation core.
package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is one workspace on the platform.
type Tenant struct {
	ID                 uuid.UUID
	Name               string
	ExternalPhoneID    string
	WebhookSecret      string
	AvailabilityStatus string
	AlertEmail         *string
	ProviderToken      *string
	ProviderPhoneID    *string
	CreatedAt          time.Time
}

// Settings are the per-tenant tunables consumed read-only by the core.
type Settings struct {
	RecoveryTimeoutMinutes int    `json:"recoveryTimeoutMinutes"`
	MaxUnanswered          int    `json:"maxUnanswered"`
	DemoMinutes            int    `json:"demoMinutes"`
	OptOutTemplate         string `json:"optOutTemplate"`
	TemplateLanguage       string `json:"templateLanguage"`
}

// Defaults applied when a tenant has no explicit value configured.
const (
	DefaultRecoveryTimeoutMinutes = 240
	DefaultMaxUnanswered          = 5
	DefaultDemoMinutes            = 10
	DefaultTemplateLanguage       = "es_MX"
)

// ApplyDefaults fills zero-valued settings with platform defaults.
func (s *Settings) ApplyDefaults() {
	if s.RecoveryTimeoutMinutes <= 0 {
		s.RecoveryTimeoutMinutes = DefaultRecoveryTimeoutMinutes
	}
	if s.MaxUnanswered <= 0 {
		s.MaxUnanswered = DefaultMaxUnanswered
	}
	if s.DemoMinutes <= 0 {
		s.DemoMinutes = DefaultDemoMinutes
	}
	if s.TemplateLanguage == "" {
		s.TemplateLanguage = DefaultTemplateLanguage
	}
}
