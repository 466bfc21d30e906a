package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cmdloop/internal/domain"
)

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	cfg    Options
	logger *slog.Logger
}

// NewAnthropic builds a client from opts. An empty APIKey lets the SDK fall
// back to ANTHROPIC_API_KEY.
func NewAnthropic(opts Options) *Anthropic {
	opts = opts.withDefaults(string(anthropic.ModelClaude3_5Sonnet20241022))

	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.APIBase != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.APIBase))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Anthropic{client: &client, cfg: opts, logger: opts.Logger}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = a.cfg.Temperature
	}
	// The Messages API caps temperature at 1.
	temperature = min(temperature, 1)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.cfg.MaxTokens
	}

	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	latency := time.Since(start).Milliseconds()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	a.logger.Debug("anthropic response",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"latency_ms", latency,
	)

	return &domain.ChatResponse{Content: text.String(), LatencyMs: latency}, nil
}

// toAnthropicMessages splits system messages into the top-level system
// blocks the Messages API expects.
func toAnthropicMessages(msgs []domain.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case domain.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}
