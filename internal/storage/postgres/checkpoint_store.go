package postgres

import (
	"context"
	"fmt"

	"openclaw-indexer/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the last saved checkpoint. Returns ErrNotFound if none.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	var cp storage.Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT slot, signature, updated_at FROM ingestion_checkpoint WHERE id = 1
	`).Scan(&cp.Slot, &cp.Signature, &cp.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}

// SetCheckpoint upserts the singleton checkpoint row.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_checkpoint (id, slot, signature, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			slot = EXCLUDED.slot,
			signature = EXCLUDED.signature,
			updated_at = EXCLUDED.updated_at
	`, cp.Slot, cp.Signature, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}
