package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/idempotency"
	"github.com/phrazzld/scry-feedback-api/internal/service"
	"github.com/phrazzld/scry-feedback-api/internal/service/auth"
	"github.com/phrazzld/scry-feedback-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.NewValidationError("student_answer", "is required"), http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"task not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", store.ErrNotFound), http.StatusNotFound},
		{"dependency", &service.DependencyError{Dependency: service.DependencyLedger}, http.StatusServiceUnavailable},
		{"contended", idempotency.ErrContended, http.StatusServiceUnavailable},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"wrong token type", auth.ErrWrongTokenType, http.StatusUnauthorized},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Validation error", GetSafeErrorMessage(domain.NewValidationError("x", "y")))
	assert.Equal(t, "Service temporarily unavailable: index",
		GetSafeErrorMessage(&service.DependencyError{Dependency: service.DependencyIndex, Err: errors.New("redis://:pw@cache")}))
	assert.Equal(t, "Feedback generation is not configured",
		GetSafeErrorMessage(&service.DependencyError{Dependency: service.DependencyProvider, Err: service.ErrProviderNotConfigured}))
	assert.Equal(t, "Token expired", GetSafeErrorMessage(auth.ErrExpiredToken))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("pq: password authentication failed")))
}

func TestJSONFieldPath(t *testing.T) {
	assert.Equal(t, "question.content", jsonFieldPath("GenerateRequest.question.content"))
	assert.Equal(t, "student_answer", jsonFieldPath("GenerateRequest.student_answer"))
	assert.Equal(t, "plain", jsonFieldPath("plain"))
}
