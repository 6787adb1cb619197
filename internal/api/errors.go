package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-feedback-api/internal/api/shared"
	"github.com/phrazzld/scry-feedback-api/internal/domain"
	"github.com/phrazzld/scry-feedback-api/internal/idempotency"
	"github.com/phrazzld/scry-feedback-api/internal/service"
	"github.com/phrazzld/scry-feedback-api/internal/service/auth"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrDependencyUnavailable),
		errors.Is(err, idempotency.ErrContended):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err that carries no
// internal detail.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var depErr *service.DependencyError
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, domain.ErrValidation):
		return "Validation error"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, store.ErrNotFound):
		return "No feedback found for this exercise record"

	case errors.Is(err, service.ErrProviderNotConfigured):
		return "Feedback generation is not configured"
	case errors.As(err, &depErr):
		return "Service temporarily unavailable: " + depErr.Dependency
	case errors.Is(err, idempotency.ErrContended):
		return "Exercise record is busy, please retry"

	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error response for err. A non-empty
// fallbackMessage replaces the generic message of 500 responses.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMessage string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMessage != "" {
		message = fallbackMessage
	}

	var opts []shared.ResponseOption
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		opts = append(opts, shared.WithFields(ve.Fields))
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// validationErrorFromTags converts struct tag failures into a
// domain.ValidationError keyed by JSON field path.
func validationErrorFromTags(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError("body", "is invalid")
	}

	ve := &domain.ValidationError{}
	for _, fe := range verrs {
		ve.Add(jsonFieldPath(fe.Namespace()), tagMessage(fe.Tag(), fe.Param()))
	}
	return ve
}

// jsonFieldPath turns "GenerateRequest.question.content" into
// "question.content". The validator reports JSON names because the shared
// validator registers a tag name function.
func jsonFieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func tagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + param + " characters"
	case "gte":
		return "must be at least " + param
	case "lte":
		return "must be at most " + param
	case "dive":
		return "has an invalid entry"
	default:
		return "is invalid"
	}
}
