// Package backends opens the configured StateStore backend for the binaries.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"openclaw-indexer/internal/config"
	"openclaw-indexer/internal/storage"
	"openclaw-indexer/internal/storage/bolt"
	"openclaw-indexer/internal/storage/clickhouse"
	"openclaw-indexer/internal/storage/memory"
	"openclaw-indexer/internal/storage/migrations"
	"openclaw-indexer/internal/storage/postgres"
)

// Backend is an opened state store with its checkpoint store.
type Backend struct {
	Name        string
	State       storage.StateStore
	Checkpoints storage.CheckpointStore
	close       func()
}

// Close releases the underlying connection or file.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open opens the backend named by cfg.Storage.Backend, applying migrations where needed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage, state is lost on exit")
		return &Backend{
			Name:        config.BackendMemory,
			State:       memory.NewStateStore(),
			Checkpoints: memory.NewCheckpointStore(),
		}, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("connected to postgres")
		return &Backend{
			Name:        config.BackendPostgres,
			State:       postgres.NewStateStore(pool),
			Checkpoints: postgres.NewCheckpointStore(pool),
			close:       pool.Close,
		}, nil

	case config.BackendBolt:
		db, err := bolt.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened bolt database", "path", cfg.Storage.BoltPath)
		return &Backend{
			Name:        config.BackendBolt,
			State:       bolt.NewStateStore(db),
			Checkpoints: bolt.NewCheckpointStore(db),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("close bolt database", "err", err)
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// OpenTicks opens the ClickHouse tick store, or returns nil when no DSN is configured.
func OpenTicks(ctx context.Context, cfg *config.Config) (*clickhouse.TradeTickStore, func(), error) {
	if cfg.Storage.ClickHouseDSN == "" {
		return nil, func() {}, nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse: %w", err)
	}
	return clickhouse.NewTradeTickStore(conn), func() { conn.Close() }, nil
}
