package bolt

import (
	"context"

	bbolt "go.etcd.io/bbolt"

	"openclaw-indexer/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore on bbolt.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the last saved checkpoint. Returns ErrNotFound if none.
func (s *CheckpointStore) GetCheckpoint(_ context.Context) (*storage.Checkpoint, error) {
	var out *storage.Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		cp, err := get[storage.Checkpoint](tx.Bucket(bucketMeta), keyCheckpoint)
		out = cp
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, storage.ErrNotFound
	}
	return out, nil
}

// SetCheckpoint replaces the saved checkpoint.
func (s *CheckpointStore) SetCheckpoint(_ context.Context, cp *storage.Checkpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketMeta), keyCheckpoint, cp)
	})
}
