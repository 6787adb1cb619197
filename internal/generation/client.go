package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/redact"
)

// Observer receives the outcome of every provider call. Kind is nil on success.
type Observer interface {
	ObserveCall(provider string, field Field, kind error, elapsed time.Duration, usage Completion)
}

// ClientConfig configures a Client. Temperature always comes from the input
// because zero is a valid value; MaxOutputTokens fills in a missing limit.
type ClientConfig struct {
	MaxOutputTokens int
	RequestTimeout  time.Duration
	// Prompts defaults to the embedded templates when nil.
	Prompts  *Prompts
	Observer Observer
}

// Client generates both feedback texts through a TextProvider.
type Client struct {
	provider TextProvider
	config   ClientConfig
	logger   *slog.Logger
}

// NewClient creates a Client. The provider is required.
func NewClient(provider TextProvider, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider cannot be nil", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	}
	if cfg.Prompts == nil {
		prompts, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		cfg.Prompts = prompts
	}

	return &Client{
		provider: provider,
		config:   cfg,
		logger:   logger.With("provider", provider.Name(), "model", provider.Model()),
	}, nil
}

// GenerateWeaknessAssessment produces the learning-weakness assessment for in.
func (c *Client) GenerateWeaknessAssessment(ctx context.Context, in domain.InputContext) (string, error) {
	return c.generate(ctx, FieldAssessment, in)
}

// GenerateSolutionGuidance produces the solution guidance for in.
func (c *Client) GenerateSolutionGuidance(ctx context.Context, in domain.InputContext) (string, error) {
	return c.generate(ctx, FieldGuidance, in)
}

// Generate runs both fields concurrently. A failed field is replaced by a
// fallback message and flagged, so the returned Feedback is always complete.
func (c *Client) Generate(ctx context.Context, in domain.InputContext) domain.Feedback {
	var (
		wg                  sync.WaitGroup
		assessment, guide   string
		assessErr, guideErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		assessment, assessErr = c.GenerateWeaknessAssessment(ctx, in)
	}()
	go func() {
		defer wg.Done()
		guide, guideErr = c.GenerateSolutionGuidance(ctx, in)
	}()
	wg.Wait()

	var fb domain.Feedback
	if assessErr != nil {
		fb.WeaknessAssessment = Fallback(FieldAssessment, assessErr)
		fb.AssessmentFallback = true
	} else {
		fb.WeaknessAssessment = assessment
	}
	if guideErr != nil {
		fb.SolutionGuidance = Fallback(FieldGuidance, guideErr)
		fb.GuidanceFallback = true
	} else {
		fb.SolutionGuidance = guide
	}
	return fb
}

// Fallback is the text stored in place of a field that failed with err.
func Fallback(field Field, err error) string {
	return fmt.Sprintf("%s generation failed: %s", field, Reason(err))
}

func (c *Client) generate(ctx context.Context, field Field, in domain.InputContext) (string, error) {
	log := c.logger.With("field", string(field))

	system, user, err := c.config.Prompts.Render(field, in)
	if err != nil {
		return "", &ProviderError{Provider: c.provider.Name(), Field: field, Kind: ErrInvalidConfig, Err: err}
	}

	prompt := Prompt{
		System:          system,
		User:            user,
		Temperature:     in.Params.Temperature,
		MaxOutputTokens: in.Params.MaxOutputTokens,
	}
	if prompt.MaxOutputTokens <= 0 {
		prompt.MaxOutputTokens = c.config.MaxOutputTokens
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	completion, err := c.provider.Complete(callCtx, prompt)
	elapsed := time.Since(start)

	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = NewProviderError(c.provider.Name(), ErrInvalidResponse, 0, errors.New("empty completion"))
	}
	if err != nil {
		pe := asProviderError(callCtx, c.provider.Name(), err)
		pe.Field = field
		c.observe(field, pe.Kind, elapsed, completion)
		log.WarnContext(ctx, "provider call failed",
			"kind", pe.Kind.Error(),
			"status_code", pe.StatusCode,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", redact.Error(err))
		return "", pe
	}

	c.observe(field, nil, elapsed, completion)
	log.DebugContext(ctx, "provider call succeeded",
		"elapsed_ms", elapsed.Milliseconds(),
		"prompt_tokens", completion.PromptTokens,
		"completion_tokens", completion.CompletionTokens)

	return strings.TrimSpace(completion.Text), nil
}

func (c *Client) observe(field Field, kind error, elapsed time.Duration, usage Completion) {
	if c.config.Observer != nil {
		c.config.Observer.ObserveCall(c.provider.Name(), field, kind, elapsed, usage)
	}
}

// asProviderError normalises whatever a provider returned. A deadline hit on
// the call context is always reported as a timeout.
func asProviderError(callCtx context.Context, provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		cp := *pe
		if cp.Kind == nil {
			cp.Kind = KindForError(err)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			cp.Kind = ErrTimeout
		}
		return &cp
	}
	kind := KindForError(err)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}
