package generation

import "context"

// Prompt is a single provider request.
type Prompt struct {
	System          string
	User            string
	Temperature     float32
	MaxOutputTokens int
}

// Completion is the text a provider produced and its token usage when the
// provider reports it.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// TextProvider abstracts a generative-text backend. Implementations return a
// *ProviderError for every failure.
type TextProvider interface {
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
	// Name identifies the backend in logs and metrics, e.g. "gemini".
	Name() string
	Model() string
}
