package migrations

import (
	"context"
	"fmt"

	"openclaw-indexer/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are idempotent, so this runs on every start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		if _, err := pool.Exec(ctx, file.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
	}
	return nil
}
