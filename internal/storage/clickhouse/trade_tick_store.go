package clickhouse

import (
	"context"
	"fmt"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// TradeTickStore implements storage.TradeTickStore using ClickHouse.
// trade_ticks is a ReplacingMergeTree keyed by signature, so re-recording a trade is harmless.
type TradeTickStore struct {
	conn *Conn
}

// NewTradeTickStore creates a new TradeTickStore.
func NewTradeTickStore(conn *Conn) *TradeTickStore {
	return &TradeTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeTickStore = (*TradeTickStore)(nil)

// RecordTrade appends a trade tick with the post-trade reserves.
func (s *TradeTickStore) RecordTrade(ctx context.Context, trade *domain.Trade, curve *domain.BondingCurve) error {
	if trade == nil || trade.Mint == "" {
		return storage.ErrInvalidInput
	}

	var vsol, vtoken, rsol uint64
	if curve != nil {
		vsol, vtoken, rsol = curve.VirtualSolReserves, curve.VirtualTokenReserves, curve.RealSolReserves
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_ticks (
			signature, mint, trader, type, sol_amount, token_amount, fee_amount, price,
			virtual_sol_reserves, virtual_token_reserves, real_sol_reserves, slot, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		trade.Signature, trade.Mint, trade.Trader, trade.Type.String(),
		trade.SolAmount, trade.TokenAmount, trade.FeeAmount, trade.Price,
		vsol, vtoken, rsol, trade.Slot, trade.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Candles aggregates the ticks of mint within [from, to] into OHLCV buckets.
// Open and close are picked by (timestamp_ms, signature) to stay deterministic within a millisecond.
func (s *TradeTickStore) Candles(ctx context.Context, mint string, resolutionMs, from, to int64) ([]domain.Candle, error) {
	if resolutionMs <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT
			intDiv(timestamp_ms, ?) * ? AS bucket,
			argMin(price, (timestamp_ms, signature)) AS open,
			max(price) AS high,
			min(price) AS low,
			argMax(price, (timestamp_ms, signature)) AS close,
			sum(sol_amount) AS volume,
			count() AS trades
		FROM trade_ticks FINAL
		WHERE mint = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`

	rows, err := s.conn.Query(ctx, query, resolutionMs, resolutionMs, mint, from, to)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
