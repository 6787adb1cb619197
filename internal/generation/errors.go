package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Failure kinds reported by providers. The message of each kind is the reason
// embedded in a field's fallback text.
var (
	// ErrTimeout is returned when a provider call exceeds its deadline
	ErrTimeout = errors.New("request timed out")

	// ErrRateLimited is returned when the provider throttles the caller
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrContentBlocked is returned when the provider refuses the prompt or
	// truncates the answer for safety reasons
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrInvalidResponse is returned when the provider answers with nothing usable
	ErrInvalidResponse = errors.New("invalid response from provider")

	// ErrTransientFailure is returned for network and server-side failures
	ErrTransientFailure = errors.New("provider temporarily unavailable")

	// ErrInvalidConfig is returned when credentials, model or client settings
	// are rejected
	ErrInvalidConfig = errors.New("provider misconfigured")
)

// ProviderError describes a failed provider call for one field.
type ProviderError struct {
	Provider   string
	Field      Field
	Kind       error
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Field != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Provider, e.Field, e.Kind)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProviderError builds a ProviderError. Field is filled in by the Client.
func NewProviderError(provider string, kind error, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// KindForStatus maps an HTTP status code from a provider to a failure kind.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return ErrInvalidConfig
	case status >= 500:
		return ErrTransientFailure
	case status >= 400:
		return ErrInvalidResponse
	default:
		return ErrTransientFailure
	}
}

// KindForError maps a transport-level error to a failure kind.
func KindForError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrTransientFailure
}

// Reason returns the fallback reason for err: the kind message when err is a
// ProviderError, a generic message otherwise.
func Reason(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind != nil {
		return pe.Kind.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Error()
	}
	return ErrTransientFailure.Error()
}
