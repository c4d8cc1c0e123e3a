package bolt

import (
	"context"
	"fmt"
	"sort"

	bbolt "go.etcd.io/bbolt"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// StateStore implements storage.StateStore on bbolt.
// bbolt allows one writer at a time, so every Update is an atomic apply.
type StateStore struct {
	db *DB
}

// NewStateStore creates a new StateStore.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// TokenExists reports whether a curve for mint exists.
func (s *StateStore) TokenExists(_ context.Context, mint string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketTokens).Get([]byte(mint)) != nil
		return nil
	})
	return exists, err
}

// CreateToken inserts a new curve and increments TotalTokens.
func (s *StateStore) CreateToken(_ context.Context, curve *domain.BondingCurve) error {
	if curve == nil || curve.Mint == "" {
		return storage.ErrInvalidInput
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		key := []byte(curve.Mint)
		if tokens.Get(key) != nil {
			return storage.ErrDuplicateKey
		}
		if err := put(tokens, key, curve); err != nil {
			return err
		}
		return updateStats(tx, domain.StatsDelta{Tokens: 1})
	})
}

// MarkMigrated flags the curve as migrated and increments TotalMigrated.
func (s *StateStore) MarkMigrated(_ context.Context, mint, signature string, at int64) (*domain.BondingCurve, error) {
	var out *domain.BondingCurve
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		curve, err := get[domain.BondingCurve](tokens, []byte(mint))
		if err != nil {
			return err
		}
		if curve == nil {
			return storage.ErrNotFound
		}
		if curve.Migrated {
			return storage.ErrMigrated
		}

		sig := signature
		curve.Migrated = true
		curve.MigrationTx = &sig
		curve.UpdatedAt = at
		if err := put(tokens, []byte(mint), curve); err != nil {
			return err
		}
		out = curve
		return updateStats(tx, domain.StatsDelta{Migrated: 1})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetToken retrieves a curve by mint. Returns ErrNotFound if not exists.
func (s *StateStore) GetToken(_ context.Context, mint string) (*domain.BondingCurve, error) {
	var out *domain.BondingCurve
	err := s.db.View(func(tx *bbolt.Tx) error {
		curve, err := get[domain.BondingCurve](tx.Bucket(bucketTokens), []byte(mint))
		out = curve
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

// ListTokens retrieves curves matching q, ordered by created_at ASC.
func (s *StateStore) ListTokens(_ context.Context, q storage.TokenQuery) ([]*domain.BondingCurve, error) {
	var result []*domain.BondingCurve
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, _ []byte) error {
			curve, err := get[domain.BondingCurve](tx.Bucket(bucketTokens), k)
			if err != nil {
				return err
			}
			if q.Match(curve) {
				result = append(result, curve)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
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
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketTrades).Get([]byte(signature)) != nil
		return nil
	})
	return exists, err
}

// ApplyTrade inserts the trade and applies delta to its curve in one bbolt transaction.
func (s *StateStore) ApplyTrade(_ context.Context, trade *domain.Trade, delta domain.ReserveDelta) (*domain.BondingCurve, error) {
	if trade == nil || trade.Signature == "" || trade.Mint == "" || delta.Direction != trade.Type {
		return nil, storage.ErrInvalidInput
	}

	var out *domain.BondingCurve
	err := s.db.Update(func(tx *bbolt.Tx) error {
		trades := tx.Bucket(bucketTrades)
		if trades.Get([]byte(trade.Signature)) != nil {
			return storage.ErrDuplicateKey
		}

		tokens := tx.Bucket(bucketTokens)
		curve, err := get[domain.BondingCurve](tokens, []byte(trade.Mint))
		if err != nil {
			return err
		}
		if curve == nil {
			return storage.ErrNotFound
		}
		if curve.Migrated {
			return storage.ErrMigrated
		}

		if err := curve.Apply(delta); err != nil {
			return fmt.Errorf("apply trade %s: %w: %w", trade.Signature, storage.ErrInvalidInput, err)
		}
		curve.UpdatedAt = trade.Timestamp

		if err := put(trades, []byte(trade.Signature), trade); err != nil {
			return err
		}
		if err := put(tokens, []byte(trade.Mint), curve); err != nil {
			return err
		}
		out = curve
		return updateStats(tx, domain.StatsDelta{Trades: 1, Volume: trade.Volume()})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTrades retrieves trades matching q, ordered by timestamp ASC, signature ASC.
func (s *StateStore) ListTrades(_ context.Context, q storage.TradeQuery) ([]*domain.Trade, error) {
	var result []*domain.Trade
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTrades)
		return b.ForEach(func(k, _ []byte) error {
			t, err := get[domain.Trade](b, k)
			if err != nil {
				return err
			}
			if q.Match(t) {
				result = append(result, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	sort.Slice(result, func(i, j int) bool {
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
	if d.IsZero() {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return updateStats(tx, d)
	})
}

// GetStats returns the current platform counters.
func (s *StateStore) GetStats(_ context.Context) (domain.PlatformStats, error) {
	var out domain.PlatformStats
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats, err := get[domain.PlatformStats](tx.Bucket(bucketMeta), keyStats)
		if stats != nil {
			out = *stats
		}
		return err
	})
	return out, err
}

func updateStats(tx *bbolt.Tx, d domain.StatsDelta) error {
	meta := tx.Bucket(bucketMeta)
	stats, err := get[domain.PlatformStats](meta, keyStats)
	if err != nil {
		return err
	}
	if stats == nil {
		stats = &domain.PlatformStats{}
	}
	stats.Add(d)
	return put(meta, keyStats, stats)
}
