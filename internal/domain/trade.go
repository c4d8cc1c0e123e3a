package domain

// TradeType is the direction of a curve trade.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// String returns the string representation of TradeType.
func (t TradeType) String() string {
	return string(t)
}

// IsValid checks if the trade type is a valid value.
func (t TradeType) IsValid() bool {
	return t == TradeBuy || t == TradeSell
}

// Trade is one executed curve trade.
// Signature is the idempotency key; a trade is never mutated after insert.
// Corresponds to trades table in PostgreSQL.
type Trade struct {
	Signature   string    // transaction signature, unique
	Mint        string    // FK to tokens
	Trader      string    // fee payer of the trade transaction
	Type        TradeType // BUY | SELL
	SolAmount   uint64    // lamports as reported by the program log
	TokenAmount uint64    // token base units as reported by the program log
	FeeAmount   uint64    // platform fee in lamports
	Price       uint64    // lamports per whole token, see pricing.TradePrice
	Slot        int64     // Solana slot number
	Timestamp   int64     // Unix timestamp in milliseconds
}

// Volume returns the lamports this trade contributes to platform volume.
// Buys count the gross SOL paid; sells count what left the curve (net + fee).
func (t *Trade) Volume() uint64 {
	if t.Type == TradeSell {
		return t.SolAmount + t.FeeAmount
	}
	return t.SolAmount
}
