// Package whatsapp is the HTTP client for the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"convopilot_backend/platform/config"
	"convopilot_backend/platform/logger"
	"convopilot_backend/platform/phone"
)

// Credentials selects which token and phone id a send goes out under.
// Campaign-level overrides win over tenant-level, which win over the
// process defaults from the environment.
type Credentials struct {
	Token   string
	PhoneID string
}

// Merge overlays non-empty fields of other onto c.
func (c Credentials) Merge(other Credentials) Credentials {
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.PhoneID != "" {
		c.PhoneID = other.PhoneID
	}
	return c
}

// SendResult is what the provider acknowledged.
type SendResult struct {
	ProviderMessageID string
}

// Client talks to the Cloud API's /{phone_id}/messages endpoint.
type Client struct {
	baseURL  string
	defaults Credentials
	http     *http.Client
	log      *logger.Logger
}

// NewClient creates the provider client. Returns nil when no API URL is
// configured, which callers treat as sending disabled.
func NewClient(cfg config.ProviderConfig, log *logger.Logger) *Client {
	if cfg.GetProviderBaseURL() == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.GetProviderBaseURL(), "/"),
		defaults: Credentials{
			Token:   cfg.GetProviderToken(),
			PhoneID: cfg.GetProviderPhoneID(),
		},
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// Defaults returns the environment-level credentials, the base of the
// campaign -> tenant -> env resolution chain.
func (c *Client) Defaults() Credentials {
	if c == nil {
		return Credentials{}
	}
	return c.defaults
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type templatePayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type templateBody struct {
	Name     string           `json:"name"`
	Language templateLanguage `json:"language"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText delivers a freeform text message.
func (c *Client) SendText(ctx context.Context, creds Credentials, phoneNumber, body string) (SendResult, error) {
	to := strings.TrimPrefix(phone.NormalizeE164(phoneNumber), "+")
	return c.post(ctx, creds, textPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
}

// SendTemplate delivers a pre-approved template, the only deliverable
// content outside the 24-hour service window.
func (c *Client) SendTemplate(ctx context.Context, creds Credentials, phoneNumber, templateName, language string) (SendResult, error) {
	to := strings.TrimPrefix(phone.NormalizeE164(phoneNumber), "+")
	return c.post(ctx, creds, templatePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templateBody{
			Name:     templateName,
			Language: templateLanguage{Code: language},
		},
	})
}

func (c *Client) post(ctx context.Context, creds Credentials, payload any) (SendResult, error) {
	if c == nil {
		return SendResult{}, fmt.Errorf("whatsapp client not configured")
	}

	creds = c.defaults.Merge(creds)
	if creds.Token == "" || creds.PhoneID == "" {
		return SendResult{}, fmt.Errorf("no provider credentials resolved")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return SendResult{}, fmt.Errorf("whatsapp api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed sendResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return SendResult{}, fmt.Errorf("whatsapp response not parseable: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return SendResult{}, fmt.Errorf("whatsapp api acknowledged no message")
	}

	return SendResult{ProviderMessageID: parsed.Messages[0].ID}, nil
}
