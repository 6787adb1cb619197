// Package metrics exposes Prometheus collectors for provider calls, the
// worker pool, task outcomes and idempotency reservations. A Metrics value
// implements the observer interfaces of the generation, task and
// idempotency packages so they never import Prometheus themselves.
package metrics
