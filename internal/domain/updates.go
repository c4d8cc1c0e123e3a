package domain

import "strings"

// Broadcast topics.
const (
	TopicNewTokens   = "newTokens"
	tokenTopicPrefix = "token:"
)

// TokenTopic returns the per-token topic for mint.
func TokenTopic(mint string) string {
	return tokenTopicPrefix + mint
}

// MintFromTopic returns the mint of a per-token topic.
func MintFromTopic(topic string) (string, bool) {
	mint, ok := strings.CutPrefix(topic, tokenTopicPrefix)
	return mint, ok && mint != ""
}

// Update message types, as seen by subscribers in the "type" field.
const (
	UpdateNewToken = "newToken"
	UpdateTrade    = "trade"
	UpdatePrice    = "price"
	UpdateMigrated = "migrated"
)

// Update is a derived event republished to subscribers.
type Update interface {
	// Topic is the broadcast topic the update belongs to.
	Topic() string
	// UpdateType is the value of the serialized "type" field.
	UpdateType() string
}

// NewTokenInfo is the token summary carried by NewTokenUpdate.
type NewTokenInfo struct {
	Mint         string `json:"mint"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Creator      string `json:"creator"`
	BondingCurve string `json:"bondingCurve"`
	MarketCap    uint64 `json:"marketCap,string"` // lamports
	CreatedAt    int64  `json:"createdAt"`
}

// NewTokenUpdate announces a launched token on the newTokens topic.
type NewTokenUpdate struct {
	Type  string       `json:"type"`
	Token NewTokenInfo `json:"token"`
}

func (u NewTokenUpdate) Topic() string      { return TopicNewTokens }
func (u NewTokenUpdate) UpdateType() string { return UpdateNewToken }

// TradeInfo is the trade summary carried by TradeUpdate.
type TradeInfo struct {
	Signature   string    `json:"signature"`
	Trader      string    `json:"trader"`
	Type        TradeType `json:"type"`
	SolAmount   uint64    `json:"solAmount,string"`
	TokenAmount uint64    `json:"tokenAmount,string"`
	FeeAmount   uint64    `json:"feeAmount,string"`
	Price       uint64    `json:"price,string"`
	Timestamp   int64     `json:"timestamp"`
}

// TradeUpdate announces an applied trade on token:<mint>.
type TradeUpdate struct {
	Type  string    `json:"type"`
	Mint  string    `json:"mint"`
	Trade TradeInfo `json:"trade"`
}

func (u TradeUpdate) Topic() string      { return TokenTopic(u.Mint) }
func (u TradeUpdate) UpdateType() string { return UpdateTrade }

// PriceUpdate carries the post-trade curve snapshot on token:<mint>.
type PriceUpdate struct {
	Type                 string `json:"type"`
	Mint                 string `json:"mint"`
	Price                uint64 `json:"price,string"`     // lamports per whole token
	MarketCap            uint64 `json:"marketCap,string"` // lamports
	VirtualSolReserves   uint64 `json:"virtualSolReserves,string"`
	VirtualTokenReserves uint64 `json:"virtualTokenReserves,string"`
	RealSolReserves      uint64 `json:"realSolReserves,string"`
	MigrationProgressBps uint64 `json:"migrationProgressBps"`
}

func (u PriceUpdate) Topic() string      { return TokenTopic(u.Mint) }
func (u PriceUpdate) UpdateType() string { return UpdatePrice }

// MigrationUpdate announces that a curve graduated.
type MigrationUpdate struct {
	Type      string `json:"type"`
	Mint      string `json:"mint"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	RealSol   uint64 `json:"realSolReserves,string"`
}

func (u MigrationUpdate) Topic() string      { return TokenTopic(u.Mint) }
func (u MigrationUpdate) UpdateType() string { return UpdateMigrated }
