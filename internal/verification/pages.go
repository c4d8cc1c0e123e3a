package verification

import (
	"context"
	"fmt"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// eachToken calls fn for every stored curve, paging by (created_at, mint).
func (v *Verifier) eachToken(ctx context.Context, fn func(*domain.BondingCurve) error) error {
	q := storage.TokenQuery{Limit: v.pageSize}
	for {
		page, err := v.store.ListTokens(ctx, q)
		if err != nil {
			return fmt.Errorf("list tokens: %w", err)
		}

		for _, curve := range page {
			if q.AfterMint != "" && !after(curve.CreatedAt, curve.Mint, q.CreatedFrom, q.AfterMint) {
				return fmt.Errorf("token %s at %d is not after the cursor: %w", curve.Mint, curve.CreatedAt, ErrCursorStalled)
			}
			q.CreatedFrom, q.AfterMint = curve.CreatedAt, curve.Mint
			if err := fn(curve); err != nil {
				return err
			}
		}

		if len(page) < v.pageSize {
			return nil
		}
	}
}

// tradesOf returns the whole trade history of mint, paging by (timestamp, signature).
func (v *Verifier) tradesOf(ctx context.Context, mint string) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	q := storage.TradeQuery{Mint: mint, Limit: v.pageSize}
	for {
		page, err := v.store.ListTrades(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list trades of %s: %w", mint, err)
		}

		for _, t := range page {
			if q.AfterSignature != "" && !after(t.Timestamp, t.Signature, q.From, q.AfterSignature) {
				return nil, fmt.Errorf("trade %s of %s at %d is not after the cursor: %w", t.Signature, mint, t.Timestamp, ErrCursorStalled)
			}
			q.From, q.AfterSignature = t.Timestamp, t.Signature
			trades = append(trades, t)
		}

		if len(page) < v.pageSize {
			return trades, nil
		}
	}
}

func after(ts int64, key string, cursorTs int64, cursorKey string) bool {
	return ts > cursorTs || ts == cursorTs && key > cursorKey
}
