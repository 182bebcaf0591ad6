// Package ai wraps the Gemini API behind the two narrow operations the
// conversation core needs: intent classification and reply generation.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/platform/logger"

	"google.golang.org/genai"
)

// Intent is the structured read of a lead's burst of messages.
type Intent struct {
	WantsHuman   bool   `json:"wantsHuman"`
	BuyingSignal bool   `json:"buyingSignal"`
	Sentiment    string `json:"sentiment"`
}

// Turn is one message of conversation history handed to the model.
type Turn struct {
	Role    string
	Content string
}

// ReplyRequest carries everything the model needs to draft a reply.
type ReplyRequest struct {
	Role     domain.AgentRole
	Lead     domain.Lead
	History  []Turn
	Inbound  string
	Language string
}

// Client talks to Gemini.
type Client struct {
	genai *genai.Client
	model string
	log   *logger.Logger
}

// Config for the AI client.
type Config interface {
	GetGeminiAPIKey() string
	GetAIModel() string
}

// NewClient creates the Gemini-backed AI client.
func NewClient(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := cfg.GetAIModel()
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{genai: gc, model: model, log: log}, nil
}

var intentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"wantsHuman":   {Type: genai.TypeBoolean, Description: "The lead explicitly asks to talk to a person."},
		"buyingSignal": {Type: genai.TypeBoolean, Description: "The lead shows concrete purchase or demo interest."},
		"sentiment":    {Type: genai.TypeString, Enum: []string{"positive", "neutral", "negative"}},
	},
	Required: []string{"wantsHuman", "buyingSignal", "sentiment"},
}

// ClassifyIntent reads a burst of inbound messages and returns a structured
// intent. The response is constrained to JSON by schema so parsing failures
// surface as errors rather than guesses.
func (c *Client) ClassifyIntent(ctx context.Context, messages []string) (Intent, error) {
	prompt := "Classify the intent of these WhatsApp messages from a sales lead:\n" +
		strings.Join(messages, "\n")

	resp, err := c.genai.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   intentSchema,
		})
	if err != nil {
		return Intent{}, fmt.Errorf("intent classification failed: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(resp.Text()), &intent); err != nil {
		return Intent{}, fmt.Errorf("intent response not parseable: %w", err)
	}
	return intent, nil
}

// GenerateReply drafts the next outbound message in the persona of the
// agent role currently responsible for the lead.
func (c *Client) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Inbound, genai.RoleUser))

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents,
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(personaFor(req), genai.RoleUser),
		})
	if err != nil {
		return "", fmt.Errorf("reply generation failed: %w", err)
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", fmt.Errorf("model returned an empty reply")
	}
	return reply, nil
}

func personaFor(req ReplyRequest) string {
	lang := req.Language
	if lang == "" {
		lang = "es_MX"
	}

	var sb strings.Builder
	switch req.Role {
	case domain.RoleCloser:
		sb.WriteString("You are a sales closer on WhatsApp. Move interested leads toward a product demo. Be direct and warm.")
	case domain.RoleReceptionist:
		sb.WriteString("You are a receptionist on WhatsApp. Qualify the lead and answer first questions briefly.")
	case domain.RoleNurturing:
		sb.WriteString("You are a nurturing assistant on WhatsApp. Keep the relationship alive without pressure.")
	default:
		sb.WriteString("You are a helpful sales assistant on WhatsApp.")
	}
	sb.WriteString(" Reply in language " + lang + ".")
	sb.WriteString(" Keep replies under three short sentences, no markdown.")
	if req.Lead.Name != "" {
		sb.WriteString(" The lead's name is " + req.Lead.Name + ".")
	}
	return sb.String()
}
