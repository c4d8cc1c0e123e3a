package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the indexer depends on.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil, nil when the node does not know the transaction.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetAccountInfo retrieves an account by public key.
	// Returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetBlockTime retrieves the estimated production time of a slot.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// FeePayer returns the first account key, which always pays the fee.
func (tx *Transaction) FeePayer() string {
	if tx == nil || tx.Message == nil || len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0]
}

// Failed reports whether the transaction carries an execution error.
func (tx *Transaction) Failed() bool {
	return tx != nil && tx.Meta != nil && tx.Meta.Err != nil
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err         interface{}
	LogMessages []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}
