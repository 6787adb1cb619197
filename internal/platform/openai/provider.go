// Package openai implements generation.TextProvider for the OpenAI chat
// completions API and any endpoint compatible with it (OpenRouter, DeepSeek,
// vLLM and similar), using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
	goopenai "github.com/sashabaranov/go-openai"
)

// ProviderName identifies this driver in logs, metrics and errors.
const ProviderName = "openai"

// Provider sends prompts to a chat completion model.
type Provider struct {
	logger *slog.Logger
	client *goopenai.Client
	model  string
}

var _ generation.TextProvider = (*Provider)(nil)

// NewProvider creates a Provider. cfg.BaseURL selects a compatible endpoint;
// the public OpenAI API is used when it is empty.
func NewProvider(logger *slog.Logger, cfg config.LLMConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	clientConfig := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		logger: logger.With("provider", ProviderName),
		client: goopenai.NewClientWithConfig(clientConfig),
		model:  cfg.ModelName,
	}, nil
}

// Name implements generation.TextProvider.
func (p *Provider) Name() string { return ProviderName }

// Model implements generation.TextProvider.
func (p *Provider) Model() string { return p.model }

// Complete implements generation.TextProvider.
func (p *Provider) Complete(ctx context.Context, prompt generation.Prompt) (generation.Completion, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxOutputTokens,
	})
	if err != nil {
		return generation.Completion{}, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrInvalidResponse, 0, errors.New("no choices in response"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrContentBlocked, 0, errors.New("completion stopped by content filter"))
	}
	if choice.Message.Content == "" {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrInvalidResponse, 0, errors.New("empty message content"))
	}

	return generation.Completion{
		Text:             choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func classifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		kind := generation.KindForStatus(apiErr.HTTPStatusCode)
		if apiErr.Code == "content_filter" || apiErr.Code == "content_policy_violation" {
			kind = generation.ErrContentBlocked
		}
		return generation.NewProviderError(ProviderName, kind, apiErr.HTTPStatusCode, err)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return generation.NewProviderError(ProviderName,
			generation.KindForStatus(reqErr.HTTPStatusCode), reqErr.HTTPStatusCode, err)
	}

	return generation.NewProviderError(ProviderName, generation.KindForError(err), 0, err)
}
