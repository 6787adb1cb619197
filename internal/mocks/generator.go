package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/generation"
	"github.com/phrazzld/scry-feedback-api/internal/task"
)

// DefaultFeedback is the result returned by a MockGenerator without a
// GenerateFn or Feedback.
var DefaultFeedback = domain.Feedback{
	WeaknessAssessment: "The answer confuses the two closest choices.",
	SolutionGuidance:   "Compare each choice against the definition before answering.",
}

// MockGenerator implements task.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, in domain.InputContext) domain.Feedback

	// Feedback is returned when GenerateFn is nil. The zero value selects
	// DefaultFeedback.
	Feedback domain.Feedback

	mu     sync.Mutex
	inputs []domain.InputContext
}

var _ task.Generator = (*MockGenerator)(nil)

// Generate implements the task.Generator interface
func (m *MockGenerator) Generate(ctx context.Context, in domain.InputContext) domain.Feedback {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, in)
	}
	if m.Feedback == (domain.Feedback{}) {
		return DefaultFeedback
	}
	return m.Feedback
}

// CallCount returns how many times Generate was called.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// Inputs returns the inputs of every Generate call in order.
func (m *MockGenerator) Inputs() []domain.InputContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.InputContext(nil), m.inputs...)
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = nil
}

// MockTextProvider implements generation.TextProvider for testing
type MockTextProvider struct {
	// CompleteFn allows test cases to mock the Complete behavior
	CompleteFn func(ctx context.Context, prompt generation.Prompt) (generation.Completion, error)

	// Default values used when CompleteFn is nil
	ProviderName string
	ModelName    string
	Completion   generation.Completion
	Err          error

	mu      sync.Mutex
	prompts []generation.Prompt
}

var _ generation.TextProvider = (*MockTextProvider)(nil)

// Complete implements the generation.TextProvider interface
func (m *MockTextProvider) Complete(ctx context.Context, prompt generation.Prompt) (generation.Completion, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, prompt)
	}
	return m.Completion, m.Err
}

// Name implements the generation.TextProvider interface
func (m *MockTextProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Model implements the generation.TextProvider interface
func (m *MockTextProvider) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Prompts returns every prompt passed to Complete in order.
func (m *MockTextProvider) Prompts() []generation.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Prompt(nil), m.prompts...)
}
