// Package idempotency guarantees at most one in-flight generation per
// exercise record. Guard.Reserve atomically either hands back the record's
// authoritative task or creates a new one, using a RecordIndex claim as the
// first barrier and the ledger's active-task uniqueness as the second.
package idempotency
