// Package store defines the persistence contracts of the orchestrator: the
// task ledger and the record index used for idempotency. Implementations live
// under internal/platform; business code depends only on these interfaces.
package store
