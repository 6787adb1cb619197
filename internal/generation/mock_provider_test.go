package generation_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/scry-feedback-api/internal/generation"
)

// stubProvider is a func-field TextProvider that records every prompt.
type stubProvider struct {
	CompleteFn func(ctx context.Context, p generation.Prompt) (generation.Completion, error)

	mu      sync.Mutex
	prompts []generation.Prompt
}

func (s *stubProvider) Complete(ctx context.Context, p generation.Prompt) (generation.Completion, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()
	return s.CompleteFn(ctx, p)
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) Calls() []generation.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]generation.Prompt(nil), s.prompts...)
}

// isGuidance tells the two field prompts apart by their system message.
func isGuidance(p generation.Prompt) bool {
	return strings.Contains(p.System, "tutor")
}

type observedCall struct {
	field generation.Field
	kind  error
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observedCall
}

func (o *recordingObserver) ObserveCall(_ string, field generation.Field, kind error, _ time.Duration, _ generation.Completion) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedCall{field: field, kind: kind})
}
