// Package provider adapts hosted chat-completion APIs to domain.ChatClient.
package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"cmdloop/internal/config"
	"cmdloop/internal/domain"
)

// Client is a named chat collaborator.
type Client interface {
	domain.ChatClient
	Name() string
}

// Options are shared by every adapter.
type Options struct {
	APIKey      string
	APIBase     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Logger      *slog.Logger
}

func (o Options) withDefaults(model string) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// New builds the client named by pc.Name. ${VAR} references in the key and
// base URL are expanded here; an unresolved reference is treated as unset.
func New(pc config.ProviderConfig, logger *slog.Logger) (Client, error) {
	opts := Options{
		APIKey:      resolve(pc.APIKey),
		APIBase:     resolve(pc.APIBase),
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		MaxRetries:  pc.MaxRetries,
		Logger:      logger,
	}

	switch pc.Name {
	case "openai", "":
		return NewOpenAI(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: openai, anthropic)", pc.Name)
	}
}

func resolve(v string) string {
	v = strings.TrimSpace(config.ExpandEnvVars(v))
	if strings.Contains(v, "${") {
		return ""
	}
	return v
}
