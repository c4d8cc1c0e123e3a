package domain

// EventKind names the domain event types produced by the log parser.
type EventKind string

const (
	KindTokenCreated  EventKind = "token_created"
	KindTradeExecuted EventKind = "trade_executed"
	KindMigrated      EventKind = "migrated"
	KindConfigUpdated EventKind = "config_updated"
)

// Event is a typed fact extracted from one program log line.
type Event interface {
	Kind() EventKind
	// Signature is the transaction the line was emitted in.
	Signature() string
	// LogIndex is the line position within the transaction logs.
	LogIndex() int
}

// EventMeta carries the transaction position shared by every event.
type EventMeta struct {
	Sig   string
	Index int
}

func (m EventMeta) Signature() string { return m.Sig }
func (m EventMeta) LogIndex() int     { return m.Index }

// TokenCreated is emitted once per launched token.
type TokenCreated struct {
	EventMeta
	Name   string
	Symbol string
	Mint   string
}

func (TokenCreated) Kind() EventKind { return KindTokenCreated }

// TradeExecuted is a buy or sell against a curve.
// The log line does not name the mint; it is resolved from the transaction accounts.
type TradeExecuted struct {
	EventMeta
	Direction   TradeType
	SolAmount   uint64 // gross for BUY, net for SELL
	TokenAmount uint64
	FeeAmount   uint64
}

func (TradeExecuted) Kind() EventKind { return KindTradeExecuted }

// Migrated marks a curve as graduated to the external exchange.
type Migrated struct {
	EventMeta
	MintHint string
}

func (Migrated) Kind() EventKind { return KindMigrated }

// ConfigUpdated is an admin update of the global curve parameters.
// Nil fields are unchanged.
type ConfigUpdated struct {
	EventMeta
	FeeBps             *uint16
	MigrationThreshold *uint64
}

func (ConfigUpdated) Kind() EventKind { return KindConfigUpdated }
