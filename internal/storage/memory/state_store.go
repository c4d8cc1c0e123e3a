package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// StateStore is an in-memory implementation of storage.StateStore.
// A single mutex makes every apply atomic with respect to readers.
type StateStore struct {
	mu     sync.RWMutex
	tokens map[string]*domain.BondingCurve // keyed by mint
	trades map[string]*domain.Trade        // keyed by signature
	order  []string                        // trade signatures in apply order
	stats  domain.PlatformStats
}

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{
		tokens: make(map[string]*domain.BondingCurve),
		trades: make(map[string]*domain.Trade),
	}
}

// TokenExists reports whether a curve for mint exists.
func (s *StateStore) TokenExists(_ context.Context, mint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tokens[mint]
	return ok, nil
}

// CreateToken inserts a new curve. Returns ErrDuplicateKey if mint exists.
func (s *StateStore) CreateToken(_ context.Context, curve *domain.BondingCurve) error {
	if curve == nil || curve.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[curve.Mint]; exists {
		return storage.ErrDuplicateKey
	}

	s.tokens[curve.Mint] = curve.Clone()
	s.stats.TotalTokens++
	return nil
}

// MarkMigrated flags the curve as migrated.
func (s *StateStore) MarkMigrated(_ context.Context, mint, signature string, at int64) (*domain.BondingCurve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	curve, ok := s.tokens[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if curve.Migrated {
		return nil, storage.ErrMigrated
	}

	sig := signature
	curve.Migrated = true
	curve.MigrationTx = &sig
	curve.UpdatedAt = at
	s.stats.TotalMigrated++
	return curve.Clone(), nil
}

// GetToken retrieves a curve by mint. Returns ErrNotFound if not exists.
func (s *StateStore) GetToken(_ context.Context, mint string) (*domain.BondingCurve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	curve, ok := s.tokens[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return curve.Clone(), nil
}

// ListTokens retrieves curves matching q, ordered by created_at ASC.
func (s *StateStore) ListTokens(_ context.Context, q storage.TokenQuery) ([]*domain.BondingCurve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BondingCurve
	for _, curve := range s.tokens {
		if q.Match(curve) {
			result = append(result, curve.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].Mint < result[j].Mint
	})

	if limit := storage.EffectiveLimit(q.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TradeExists reports whether a trade with signature was applied.
func (s *StateStore) TradeExists(_ context.Context, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.trades[signature]
	return ok, nil
}

// ApplyTrade inserts the trade and applies delta to its curve, all or nothing.
func (s *StateStore) ApplyTrade(_ context.Context, trade *domain.Trade, delta domain.ReserveDelta) (*domain.BondingCurve, error) {
	if trade == nil || trade.Signature == "" || trade.Mint == "" || delta.Direction != trade.Type {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[trade.Signature]; exists {
		return nil, storage.ErrDuplicateKey
	}
	curve, ok := s.tokens[trade.Mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if curve.Migrated {
		return nil, storage.ErrMigrated
	}

	next := curve.Clone()
	if err := next.Apply(delta); err != nil {
		return nil, fmt.Errorf("apply trade %s: %w: %w", trade.Signature, storage.ErrInvalidInput, err)
	}
	next.UpdatedAt = trade.Timestamp

	t := *trade
	s.trades[t.Signature] = &t
	s.order = append(s.order, t.Signature)
	s.tokens[trade.Mint] = next
	s.stats.TotalTrades++
	s.stats.TotalVolume += trade.Volume()
	return next.Clone(), nil
}

// ListTrades retrieves trades matching q, ordered by timestamp ASC, signature ASC.
func (s *StateStore) ListTrades(_ context.Context, q storage.TradeQuery) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, sig := range s.order {
		t := s.trades[sig]
		if q.Match(t) {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].Signature < result[j].Signature
	})

	if limit := storage.EffectiveLimit(q.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// IncrementStats adds d to the platform counters.
func (s *StateStore) IncrementStats(_ context.Context, d domain.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Add(d)
	return nil
}

// GetStats returns the current platform counters.
func (s *StateStore) GetStats(_ context.Context) (domain.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats, nil
}

var _ storage.StateStore = (*StateStore)(nil)
