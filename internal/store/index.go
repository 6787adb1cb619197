package store

import (
	"context"

	"github.com/google/uuid"
)

// RecordIndex maps an exercise record to its authoritative task ID.
// Every mutation is a single conditional write, which is what makes the
// idempotency guard safe without locks.
type RecordIndex interface {
	// Claim sets record -> taskID only if the record has no entry yet.
	// It reports whether this call created the entry.
	Claim(ctx context.Context, exerciseRecordID string, taskID uuid.UUID) (bool, error)

	// Lookup returns the indexed task ID or ErrNotFound.
	Lookup(ctx context.Context, exerciseRecordID string) (uuid.UUID, error)

	// Swap replaces the entry only if it still points at expected.
	// It reports whether the swap happened.
	Swap(ctx context.Context, exerciseRecordID string, expected, replacement uuid.UUID) (bool, error)

	// Release deletes the entry only if it still points at taskID.
	Release(ctx context.Context, exerciseRecordID string, taskID uuid.UUID) error

	// Ping reports whether the index backend is reachable.
	Ping(ctx context.Context) error
}
