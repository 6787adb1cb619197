package idempotency

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-feedback-api/internal/store"
)

// MemoryIndex is a process-local store.RecordIndex for tests and
// single-process setups.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
}

var _ store.RecordIndex = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]uuid.UUID)}
}

// Claim implements store.RecordIndex.Claim.
func (m *MemoryIndex) Claim(_ context.Context, exerciseRecordID string, taskID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[exerciseRecordID]; ok {
		return false, nil
	}
	m.entries[exerciseRecordID] = taskID
	return true, nil
}

// Lookup implements store.RecordIndex.Lookup.
func (m *MemoryIndex) Lookup(_ context.Context, exerciseRecordID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[exerciseRecordID]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return id, nil
}

// Swap implements store.RecordIndex.Swap.
func (m *MemoryIndex) Swap(_ context.Context, exerciseRecordID string, expected, replacement uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.entries[exerciseRecordID]; !ok || id != expected {
		return false, nil
	}
	m.entries[exerciseRecordID] = replacement
	return true, nil
}

// Release implements store.RecordIndex.Release.
func (m *MemoryIndex) Release(_ context.Context, exerciseRecordID string, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.entries[exerciseRecordID]; ok && id == taskID {
		delete(m.entries, exerciseRecordID)
	}
	return nil
}

// Ping implements store.RecordIndex.Ping.
func (m *MemoryIndex) Ping(context.Context) error { return nil }

// Flush drops every entry, as a Redis FLUSHDB would.
func (m *MemoryIndex) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]uuid.UUID)
}
