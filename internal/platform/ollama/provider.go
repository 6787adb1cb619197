// Package ollama implements generation.TextProvider against a local or
// self-hosted Ollama server through its native chat API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
)

// ProviderName identifies this driver in logs, metrics and errors.
const ProviderName = "ollama"

// Provider sends prompts to a model served by Ollama.
type Provider struct {
	logger *slog.Logger
	client *api.Client
	model  string
}

var _ generation.TextProvider = (*Provider)(nil)

// NewProvider creates a Provider for the server at cfg.BaseURL. A trailing
// "/v1" (the OpenAI-compatible prefix) is stripped because the native API
// lives at the root.
func NewProvider(logger *slog.Logger, cfg config.LLMConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	if base == "" {
		return nil, fmt.Errorf("%w: ollama base URL cannot be empty", generation.ErrInvalidConfig)
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: parse ollama base URL: %v", generation.ErrInvalidConfig, err)
	}

	return &Provider{
		logger: logger.With("provider", ProviderName),
		client: api.NewClient(parsed, &http.Client{}),
		model:  cfg.ModelName,
	}, nil
}

// Name implements generation.TextProvider.
func (p *Provider) Name() string { return ProviderName }

// Model implements generation.TextProvider.
func (p *Provider) Model() string { return p.model }

// Complete implements generation.TextProvider.
func (p *Provider) Complete(ctx context.Context, prompt generation.Prompt) (generation.Completion, error) {
	messages := make([]api.Message, 0, 2)
	if prompt.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt.User})

	stream := false
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": prompt.Temperature,
			"num_predict": prompt.MaxOutputTokens,
		},
	}

	var resp api.ChatResponse
	err := p.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return generation.Completion{}, classifyError(ctx, err)
	}

	if strings.TrimSpace(resp.Message.Content) == "" {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrInvalidResponse, 0, errors.New("empty message content"))
	}

	return generation.Completion{
		Text:             resp.Message.Content,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

func classifyError(ctx context.Context, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return generation.NewProviderError(ProviderName,
			generation.KindForStatus(statusErr.StatusCode), statusErr.StatusCode, err)
	}
	if ctx.Err() != nil {
		return generation.NewProviderError(ProviderName, generation.KindForError(ctx.Err()), 0, err)
	}
	return generation.NewProviderError(ProviderName, generation.KindForError(err), 0, err)
}
