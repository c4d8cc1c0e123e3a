package storage

import "openclaw-indexer/internal/domain"

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 500

// TradeQuery filters ListTrades. Zero fields do not filter.
type TradeQuery struct {
	Mint   string
	Trader string
	Type   domain.TradeType
	From   int64 // Unix ms, inclusive
	To     int64 // Unix ms, inclusive
	// AfterSignature turns From into a keyset cursor: only rows after
	// (From, AfterSignature) in timestamp, signature order match.
	AfterSignature string
	Limit          int
}

// TokenQuery filters ListTokens. Zero fields do not filter.
type TokenQuery struct {
	Creator     string
	Migrated    *bool
	CreatedFrom int64 // Unix ms, inclusive
	// AfterMint turns CreatedFrom into a keyset cursor on (created_at, mint).
	AfterMint string
	Limit     int
}

// EffectiveLimit returns the limit to apply for a requested limit.
func EffectiveLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}

// Match reports whether t passes the filter.
func (q TradeQuery) Match(t *domain.Trade) bool {
	if q.Mint != "" && t.Mint != q.Mint {
		return false
	}
	if q.Trader != "" && t.Trader != q.Trader {
		return false
	}
	if q.Type != "" && t.Type != q.Type {
		return false
	}
	if q.From != 0 && t.Timestamp < q.From {
		return false
	}
	if q.To != 0 && t.Timestamp > q.To {
		return false
	}
	if q.AfterSignature != "" && (t.Timestamp < q.From || t.Timestamp == q.From && t.Signature <= q.AfterSignature) {
		return false
	}
	return true
}

// Match reports whether c passes the filter.
func (q TokenQuery) Match(c *domain.BondingCurve) bool {
	if q.Creator != "" && c.Creator != q.Creator {
		return false
	}
	if q.Migrated != nil && c.Migrated != *q.Migrated {
		return false
	}
	if q.CreatedFrom != 0 && c.CreatedAt < q.CreatedFrom {
		return false
	}
	if q.AfterMint != "" && (c.CreatedAt < q.CreatedFrom || c.CreatedAt == q.CreatedFrom && c.Mint <= q.AfterMint) {
		return false
	}
	return true
}
