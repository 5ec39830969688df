package elimination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const advisorySystemPrompt = "You are a customs classification specialist. You are given a product description and a short list of candidate tariff codes that survived a deterministic rule screen. Select the code or codes that best fit the product. Respond with strict JSON only: {\"selected_codes\": [...], \"rationale\": \"...\"}."

// AnthropicMessager abstracts the SDK's Messages service so tests can supply
// canned responses.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicAdvisor consults a Claude model to narrow an ambiguous survivor
// set. It is advisory only: invalid or failed responses leave the set alone.
type AnthropicAdvisor struct {
	messages AnthropicMessager
	model    anthropic.Model
	name     string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// NewAnthropicAdvisorsFromEnv builds the primary and fallback advisors from
// ANTHROPIC_API_KEY. The fallback uses a smaller model with the same prompt.
func NewAnthropicAdvisorsFromEnv() (primary, fallback *AnthropicAdvisor, err error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	messages := newAnthropicClient(apiKey)
	primary = &AnthropicAdvisor{messages: messages, model: anthropic.ModelClaudeSonnet4_20250514, name: "anthropic-sonnet"}
	fallback = &AnthropicAdvisor{messages: messages, model: anthropic.ModelClaude3_5HaikuLatest, name: "anthropic-haiku"}
	return primary, fallback, nil
}

func (a *AnthropicAdvisor) Name() string { return a.name }

func (a *AnthropicAdvisor) Consult(ctx context.Context, req AdvisoryRequest) (AdvisoryResponse, error) {
	prompt, err := buildAdvisoryPrompt(req)
	if err != nil {
		return AdvisoryResponse{}, err
	}
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   1024,
		System:      []anthropic.TextBlockParam{{Text: advisorySystemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return AdvisoryResponse{}, fmt.Errorf("anthropic request: %w", err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	raw := strings.TrimSpace(sb.String())
	if raw == "" {
		return AdvisoryResponse{}, errors.New("empty advisory response")
	}
	var out AdvisoryResponse
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &out); err != nil {
		return AdvisoryResponse{}, fmt.Errorf("parse advisory response: %w", err)
	}
	if len(out.SelectedCodes) == 0 {
		return AdvisoryResponse{}, errors.New("advisory response selected no codes")
	}
	return out, nil
}

func buildAdvisoryPrompt(req AdvisoryRequest) (string, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode advisory request: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("Select the best-fitting candidate code(s) for this product. ")
	sb.WriteString("Only choose from the listed candidate codes.\n\n")
	sb.Write(payload)
	sb.WriteString("\n\nRespond with only valid JSON matching the schema.")
	return sb.String(), nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
