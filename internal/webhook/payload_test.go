package webhook

import (
	"encoding/json"
	"testing"

	"convopilot_backend/internal/conversation/domain"
)

const sampleDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "entry-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "5215512345678", "phone_number_id": "phone-42"},
        "messages": [
          {"from": "5215598765432", "id": "wamid.A", "timestamp": "1767225600", "type": "text", "text": {"body": "Si, me interesa"}},
          {"from": "5215598765432", "id": "wamid.B", "timestamp": "1767225601", "type": "button", "button": {"payload": "demo_yes", "text": "Quiero la demo"}},
          {"from": "5215598765432", "id": "wamid.C", "timestamp": "1767225602", "type": "sticker"}
        ],
        "statuses": [
          {"id": "wamid.D", "status": "delivered", "timestamp": "1767225603", "recipient_id": "5215598765432"}
        ]
      }
    }]
  }]
}`

func TestPayloadNormalize(t *testing.T) {
	var payload Payload
	if err := json.Unmarshal([]byte(sampleDelivery), &payload); err != nil {
		t.Fatalf("failed to parse sample delivery: %v", err)
	}

	if got := payload.PhoneNumberID(); got != "phone-42" {
		t.Fatalf("expected phone number id phone-42, got %q", got)
	}

	events := payload.Normalize()
	if len(events) != 4 {
		t.Fatalf("expected 4 normalized events, got %d", len(events))
	}

	text, ok := events[0].(domain.InboundMessageEvent)
	if !ok {
		t.Fatalf("expected first event to be an inbound message, got %T", events[0])
	}
	if text.Text != "Si, me interesa" || text.Type != domain.TypeText || text.ProviderID != "wamid.A" {
		t.Fatalf("unexpected text event: %+v", text)
	}

	button, ok := events[1].(domain.InboundMessageEvent)
	if !ok {
		t.Fatalf("expected second event to be an inbound message, got %T", events[1])
	}
	if button.Type != domain.TypeButtonResponse || button.ButtonID != "demo_yes" || button.ButtonTitle != "Quiero la demo" {
		t.Fatalf("unexpected button event: %+v", button)
	}

	unknown, ok := events[2].(domain.UnrecognizedEvent)
	if !ok {
		t.Fatalf("expected third event to be unrecognized, got %T", events[2])
	}
	if unknown.Kind != "sticker" {
		t.Fatalf("expected unrecognized kind sticker, got %q", unknown.Kind)
	}

	status, ok := events[3].(domain.StatusUpdateEvent)
	if !ok {
		t.Fatalf("expected fourth event to be a status update, got %T", events[3])
	}
	if status.ProviderID != "wamid.D" || status.Status != "delivered" {
		t.Fatalf("unexpected status event: %+v", status)
	}
}

func TestPayloadNormalizeOutboundEcho(t *testing.T) {
	raw := `{
	  "entry": [{"changes": [{"value": {
	    "metadata": {"phone_number_id": "phone-42"},
	    "messages": [{"from_me": true, "to": "5215598765432", "id": "wamid.E", "timestamp": "1767225604", "type": "text", "text": {"body": "typed by a human"}}]
	  }}]}]
	}`

	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}

	events := payload.Normalize()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	echo, ok := events[0].(domain.OutboundEchoEvent)
	if !ok {
		t.Fatalf("expected outbound echo, got %T", events[0])
	}
	if echo.To != "5215598765432" || echo.Text != "typed by a human" {
		t.Fatalf("unexpected echo event: %+v", echo)
	}
}
