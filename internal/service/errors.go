package service

import (
	"errors"
	"fmt"
)

// Common service errors. The API layer maps them to HTTP status codes.
var (
	// ErrDependencyUnavailable indicates a backend required to accept a
	// submission is unreachable or not configured.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrProviderNotConfigured indicates no generation driver is set up.
	ErrProviderNotConfigured = errors.New("generation provider is not configured")
)

// Dependencies named in DependencyError.
const (
	DependencyLedger   = "ledger"
	DependencyQueue    = "queue"
	DependencyIndex    = "index"
	DependencyProvider = "provider"
)

// DependencyError names the backend that made a request fail.
type DependencyError struct {
	Dependency string
	Err        error
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrDependencyUnavailable, e.Dependency)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDependencyUnavailable, e.Dependency, e.Err)
}

// Unwrap supports errors.Is for both ErrDependencyUnavailable and the cause.
func (e *DependencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDependencyUnavailable}
	}
	return []error{ErrDependencyUnavailable, e.Err}
}

func dependencyError(dependency string, err error) error {
	return &DependencyError{Dependency: dependency, Err: err}
}
