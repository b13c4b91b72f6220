package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process [Store] used in tests and when no database is
// configured. Data is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]Submission
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]Submission), now: time.Now}
}

// Save implements [Store].
func (m *MemoryStore) Save(ctx context.Context, sub *Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	sub.CreatedAt = m.now().UTC()
	m.mu.Lock()
	m.subs[sub.ID] = clone(*sub)
	m.mu.Unlock()
	return nil
}

// Get implements [Store].
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Submission, error) {
	m.mu.RLock()
	sub, ok := m.subs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(sub)
	return &out, nil
}

// Delete implements [Store].
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
	return nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored submissions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func clone(s Submission) Submission {
	s.Audio = slices.Clone(s.Audio)
	s.Warnings = slices.Clone(s.Warnings)
	return s
}
