package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to program logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter selects which transactions a logs subscription delivers.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	// Empty subscribes to all transactions.
	Mentions []string
}

// LogNotification is one logsNotification: a transaction's logs and outcome.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}

// Failed reports whether the transaction failed on chain.
func (n LogNotification) Failed() bool {
	return n.Err != nil
}
