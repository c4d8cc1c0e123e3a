package storage

import (
	"context"

	"openclaw-indexer/internal/domain"
)

// TokenStore provides access to bonding curve state.
type TokenStore interface {
	// TokenExists reports whether a curve for mint has been created.
	TokenExists(ctx context.Context, mint string) (bool, error)

	// CreateToken inserts a new curve and increments TotalTokens in one atomic unit.
	// Returns ErrDuplicateKey if mint exists.
	CreateToken(ctx context.Context, curve *domain.BondingCurve) error

	// MarkMigrated flags the curve as migrated, records the migration signature
	// and increments TotalMigrated in one atomic unit.
	// Returns ErrNotFound if mint does not exist, ErrMigrated if it already migrated.
	MarkMigrated(ctx context.Context, mint, signature string, at int64) (*domain.BondingCurve, error)

	// GetToken retrieves a curve by mint. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, mint string) (*domain.BondingCurve, error)

	// ListTokens retrieves curves matching q, ordered by created_at ASC.
	ListTokens(ctx context.Context, q TokenQuery) ([]*domain.BondingCurve, error)
}

// TradeStore provides access to the append-only trade history.
type TradeStore interface {
	// TradeExists reports whether a trade with signature has been applied.
	TradeExists(ctx context.Context, signature string) (bool, error)

	// ApplyTrade inserts the trade, applies delta to the owning curve and increments
	// TotalTrades and TotalVolume, all or nothing. Returns the updated curve.
	// Returns ErrDuplicateKey if signature exists, ErrNotFound if the curve does not exist,
	// ErrMigrated if the curve migrated and ErrInvalidInput if delta does not fit the reserves.
	ApplyTrade(ctx context.Context, trade *domain.Trade, delta domain.ReserveDelta) (*domain.BondingCurve, error)

	// ListTrades retrieves trades matching q, ordered by timestamp ASC, signature ASC.
	ListTrades(ctx context.Context, q TradeQuery) ([]*domain.Trade, error)
}

// StatsStore provides access to the platform_stats singleton.
type StatsStore interface {
	// IncrementStats adds d to the platform counters.
	IncrementStats(ctx context.Context, d domain.StatsDelta) error

	// GetStats returns the current platform counters. Zero value if nothing was recorded.
	GetStats(ctx context.Context) (domain.PlatformStats, error)
}

// StateStore is the authoritative record of tokens, trades and platform stats.
type StateStore interface {
	TokenStore
	TradeStore
	StatsStore
}

// TradeTickStore is an analytical copy of applied trades used for charting.
// Writes are best effort; StateStore stays authoritative.
type TradeTickStore interface {
	// RecordTrade appends a trade together with the post-trade curve snapshot.
	RecordTrade(ctx context.Context, trade *domain.Trade, curve *domain.BondingCurve) error

	// Candles aggregates the trades of mint within [from, to] (inclusive, Unix ms)
	// into OHLCV buckets of resolutionMs, ordered by bucket start ASC.
	Candles(ctx context.Context, mint string, resolutionMs, from, to int64) ([]domain.Candle, error)
}

// Checkpoint is the last transaction the ingestion worker finished applying.
// Informational only: ingestion restarts from "now" and relies on idempotency.
type Checkpoint struct {
	Slot      int64
	Signature string
	UpdatedAt int64 // Unix timestamp in milliseconds
}

// CheckpointStore persists the ingestion checkpoint.
type CheckpointStore interface {
	// GetCheckpoint returns the last saved checkpoint.
	// Returns ErrNotFound if no checkpoint has been saved yet.
	GetCheckpoint(ctx context.Context) (*Checkpoint, error)

	// SetCheckpoint replaces the saved checkpoint.
	SetCheckpoint(ctx context.Context, cp *Checkpoint) error
}
