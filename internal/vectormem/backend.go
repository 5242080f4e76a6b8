package vectormem

import (
	"context"
	"sync"

	"github.com/soyeahso/recall/internal/domain"
)

// Backend persists memory entries. Backends are append-only.
type Backend interface {
	Append(ctx context.Context, entry domain.MemoryEntry) error
	Snapshot(ctx context.Context) ([]domain.MemoryEntry, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []domain.MemoryEntry
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Append(_ context.Context, entry domain.MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Snapshot returns the entries appended so far. The slice is capped so a
// concurrent Append never writes into the caller's view.
func (m *MemoryBackend) Snapshot(_ context.Context) ([]domain.MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[:len(m.entries):len(m.entries)], nil
}

func (m *MemoryBackend) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryBackend) Close() error { return nil }
