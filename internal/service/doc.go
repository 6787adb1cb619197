// Package service contains the feedback use cases: submitting a generation
// request, looking up the latest result for an exercise record, and
// reporting dependency health.
//
// The service coordinates the idempotency guard, the task ledger and the job
// queue. It depends on their interfaces only; concrete backends are chosen
// in cmd/server.
//
// Error handling:
//   - Invalid input is returned as *domain.ValidationError before anything
//     is written.
//   - Unreachable backends are returned as *DependencyError, which wraps
//     ErrDependencyUnavailable.
//   - Provider failures never reach callers; they are absorbed into the
//     fallback fields of the task result.
package service
