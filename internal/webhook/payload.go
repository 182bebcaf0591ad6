package webhook

import (
	"encoding/json"
	"strconv"
	"time"

	"convopilot_backend/internal/conversation/domain"
)

// Payload mirrors the WhatsApp Cloud API webhook envelope. Only the parts
// the core consumes are mapped; everything else rides along in raw form.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []StatusReceipt  `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type InboundMessage struct {
	From      string          `json:"from"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Text      *TextContent    `json:"text"`
	Button    *ButtonContent  `json:"button"`
	Context   json.RawMessage `json:"context"`
	FromMe    bool            `json:"from_me"`
	To        string          `json:"to"`
}

type TextContent struct {
	Body string `json:"body"`
}

type ButtonContent struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type StatusReceipt struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// PhoneNumberID returns the receiving business number, the key used to
// resolve which tenant a delivery belongs to.
func (p Payload) PhoneNumberID() string {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if id := change.Value.Metadata.PhoneNumberID; id != "" {
				return id
			}
		}
	}
	return ""
}

// Normalize flattens the envelope into the typed event union the
// orchestrator dispatches over. Unknown message types become
// UnrecognizedEvent rather than being dropped silently.
func (p Payload) Normalize() []domain.ProviderEvent {
	var events []domain.ProviderEvent
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				events = append(events, normalizeMessage(msg))
			}
			for _, st := range change.Value.Statuses {
				events = append(events, domain.StatusUpdateEvent{
					ProviderID: st.ID,
					Status:     st.Status,
					Timestamp:  parseUnix(st.Timestamp),
				})
			}
		}
	}
	return events
}

func normalizeMessage(msg InboundMessage) domain.ProviderEvent {
	ts := parseUnix(msg.Timestamp)

	if msg.FromMe {
		text := ""
		if msg.Text != nil {
			text = msg.Text.Body
		}
		return domain.OutboundEchoEvent{
			To:         msg.To,
			ProviderID: msg.ID,
			Timestamp:  ts,
			Text:       text,
		}
	}

	switch msg.Type {
	case "text":
		body := ""
		if msg.Text != nil {
			body = msg.Text.Body
		}
		return domain.InboundMessageEvent{
			From:       msg.From,
			ProviderID: msg.ID,
			Timestamp:  ts,
			Type:       domain.TypeText,
			Text:       body,
		}
	case "button":
		var buttonID, buttonTitle string
		if msg.Button != nil {
			buttonID = msg.Button.Payload
			buttonTitle = msg.Button.Text
		}
		return domain.InboundMessageEvent{
			From:        msg.From,
			ProviderID:  msg.ID,
			Timestamp:   ts,
			Type:        domain.TypeButtonResponse,
			Text:        buttonTitle,
			ButtonID:    buttonID,
			ButtonTitle: buttonTitle,
		}
	default:
		raw, _ := json.Marshal(msg)
		return domain.UnrecognizedEvent{
			Kind:      msg.Type,
			Timestamp: ts,
			Raw:       raw,
		}
	}
}

func parseUnix(s string) time.Time {
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}
