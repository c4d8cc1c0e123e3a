package memory

import (
	"context"
	"sync"

	"openclaw-indexer/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu sync.RWMutex
	cp *storage.Checkpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// GetCheckpoint returns the last saved checkpoint. Returns ErrNotFound if none.
func (s *CheckpointStore) GetCheckpoint(_ context.Context) (*storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cp == nil {
		return nil, storage.ErrNotFound
	}
	copy := *s.cp
	return &copy, nil
}

// SetCheckpoint replaces the saved checkpoint.
func (s *CheckpointStore) SetCheckpoint(_ context.Context, cp *storage.Checkpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *cp
	s.cp = &copy
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
