package memory

import (
	"context"
	"sort"
	"sync"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// TradeTickStore is an in-memory implementation of storage.TradeTickStore.
type TradeTickStore struct {
	mu    sync.RWMutex
	ticks map[string][]*domain.Trade // keyed by mint
}

// NewTradeTickStore creates a new in-memory tick store.
func NewTradeTickStore() *TradeTickStore {
	return &TradeTickStore{
		ticks: make(map[string][]*domain.Trade),
	}
}

// RecordTrade appends a trade tick.
func (s *TradeTickStore) RecordTrade(_ context.Context, trade *domain.Trade, _ *domain.BondingCurve) error {
	if trade == nil || trade.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *trade
	s.ticks[trade.Mint] = append(s.ticks[trade.Mint], &copy)
	return nil
}

// Candles aggregates the ticks of mint within [from, to] into OHLCV buckets.
func (s *TradeTickStore) Candles(_ context.Context, mint string, resolutionMs, from, to int64) ([]domain.Candle, error) {
	if resolutionMs <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	var trades []*domain.Trade
	for _, t := range s.ticks[mint] {
		if t.Timestamp >= from && t.Timestamp <= to {
			trades = append(trades, t)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp < trades[j].Timestamp
	})

	return domain.BuildCandles(trades, resolutionMs), nil
}

var _ storage.TradeTickStore = (*TradeTickStore)(nil)
