package domain

import (
	"strings"

	"github.com/google/uuid"
)

// KeywordSource identifies who a phrase list applies to. INTERNAL phrases
// are owner overrides typed from the tenant's own device; LEAD phrases are
// explicit human requests typed by the contact.
type KeywordSource string

const (
	SourceInternal KeywordSource = "INTERNAL"
	SourceLead     KeywordSource = "LEAD"
)

// KeywordCategory is the effect of a matched phrase.
type KeywordCategory string

const (
	CategoryReactivation KeywordCategory = "REACTIVATION"
	CategoryTakeover     KeywordCategory = "TAKEOVER"
)

// TakeoverKeyword is one configured phrase.
type TakeoverKeyword struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Phrase   string
	Source   KeywordSource
	Category KeywordCategory
}

// MatchKeyword reports whether content contains any phrase of the given
// source and category, case-insensitively.
func MatchKeyword(keywords []TakeoverKeyword, content string, source KeywordSource, category KeywordCategory) bool {
	lowered := strings.ToLower(content)
	for _, kw := range keywords {
		if kw.Source != source || kw.Category != category {
			continue
		}
		phrase := strings.ToLower(strings.TrimSpace(kw.Phrase))
		if phrase != "" && strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
