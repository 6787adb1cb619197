package generation_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/scry-feedback-api/internal/generation"
	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, generation.ErrRateLimited},
		{http.StatusRequestTimeout, generation.ErrTimeout},
		{http.StatusGatewayTimeout, generation.ErrTimeout},
		{http.StatusUnauthorized, generation.ErrInvalidConfig},
		{http.StatusForbidden, generation.ErrInvalidConfig},
		{http.StatusNotFound, generation.ErrInvalidConfig},
		{http.StatusBadRequest, generation.ErrInvalidResponse},
		{http.StatusInternalServerError, generation.ErrTransientFailure},
		{http.StatusServiceUnavailable, generation.ErrTransientFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, generation.KindForStatus(tt.status))
		})
	}
}

func TestKindForError(t *testing.T) {
	assert.Equal(t, generation.ErrTimeout, generation.KindForError(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, generation.ErrTransientFailure, generation.KindForError(errors.New("EOF")))
}

func TestProviderError(t *testing.T) {
	cause := errors.New("quota exhausted")
	err := &generation.ProviderError{
		Provider:   "gemini",
		Field:      generation.FieldAssessment,
		Kind:       generation.ErrRateLimited,
		StatusCode: 429,
		Err:        cause,
	}

	assert.ErrorIs(t, err, generation.ErrRateLimited)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "gemini assessment: rate limited by provider (status 429): quota exhausted", err.Error())
	assert.Equal(t, "rate limited by provider", generation.Reason(fmt.Errorf("wrapped: %w", err)))
}

func TestFallback(t *testing.T) {
	err := generation.NewProviderError("openai", generation.ErrContentBlocked, 0, nil)
	assert.Equal(t,
		"assessment generation failed: content blocked by provider safety filters",
		generation.Fallback(generation.FieldAssessment, err))
	assert.Equal(t,
		"guidance generation failed: request timed out",
		generation.Fallback(generation.FieldGuidance, context.DeadlineExceeded))
}
