package orchestrator

import (
	"sync"
	"time"

	"github.com/samber/mo"
)

// Checkpoint is the position captured when a live session is suspended.
type Checkpoint struct {
	Position time.Duration
	TakenAt  time.Time
}

// CheckpointStore holds at most one suspend checkpoint.
// Implementations can be in-memory or backed by something that outlives the
// process; the orchestrator only needs these three calls.
type CheckpointStore interface {
	Save(cp Checkpoint)
	Load() mo.Option[Checkpoint]
	Clear()
}

// InMemoryStore is an in-memory implementation of CheckpointStore.
type InMemoryStore struct {
	mu sync.Mutex
	cp mo.Option[Checkpoint]
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cp: mo.None[Checkpoint]()}
}

// Save implements CheckpointStore.Save. A later save replaces an earlier one.
func (s *InMemoryStore) Save(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = mo.Some(cp)
}

// Load implements CheckpointStore.Load.
func (s *InMemoryStore) Load() mo.Option[Checkpoint] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp
}

// Clear implements CheckpointStore.Clear.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = mo.None[Checkpoint]()
}
