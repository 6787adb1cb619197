package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-feedback-api/internal/config"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
	"google.golang.org/genai"
)

// ProviderName identifies this driver in logs, metrics and errors.
const ProviderName = "gemini"

// Provider sends prompts to a Gemini model.
type Provider struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

var _ generation.TextProvider = (*Provider)(nil)

// NewProvider creates a Provider from the LLM configuration. BaseURL, when
// set, replaces the public Gemini endpoint.
func NewProvider(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return &Provider{
		logger: logger.With("provider", ProviderName),
		client: client,
		model:  cfg.ModelName,
	}, nil
}

func validateConfig(cfg config.LLMConfig) error {
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	return nil
}

// Name implements generation.TextProvider.
func (p *Provider) Name() string { return ProviderName }

// Model implements generation.TextProvider.
func (p *Provider) Model() string { return p.model }

// Complete implements generation.TextProvider.
func (p *Provider) Complete(ctx context.Context, prompt generation.Prompt) (generation.Completion, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(prompt.Temperature),
		MaxOutputTokens: int32(prompt.MaxOutputTokens),
	}
	if prompt.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt.User), genConfig)
	if err != nil {
		return generation.Completion{}, classifyError(err)
	}

	return parseResponse(resp)
}

func parseResponse(resp *genai.GenerateContentResponse) (generation.Completion, error) {
	if resp == nil {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrInvalidResponse, 0, errors.New("nil response"))
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrContentBlocked, 0, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrInvalidResponse, 0, errors.New("no candidates in response"))
	}

	switch reason := resp.Candidates[0].FinishReason; reason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrContentBlocked, 0, fmt.Errorf("candidate finished with %s", reason))
	}

	completion := generation.Completion{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		completion.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completion.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if completion.Text == "" {
		return generation.Completion{}, generation.NewProviderError(ProviderName,
			generation.ErrInvalidResponse, 0, errors.New("empty content in response"))
	}
	return completion, nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return generation.NewProviderError(ProviderName, generation.KindForStatus(apiErr.Code), apiErr.Code, err)
	}
	return generation.NewProviderError(ProviderName, generation.KindForError(err), 0, err)
}
