package materializer

import (
	"context"
	"errors"
	"fmt"

	"openclaw-indexer/internal/solana"
)

// TraderTokenAccountIndex is the position of the buyer/seller token account in
// buy and sell instructions: [trader, config, curve, curve vault, trader ATA, ...].
const TraderTokenAccountIndex = 4

// ErrTransactionNotFound is returned when the node does not know a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// TxContext is the chain context of one transaction.
type TxContext struct {
	FeePayer    string
	AccountKeys []string
	Slot        int64
	BlockTime   int64 // Unix seconds, zero when the node did not report it
}

// TraderTokenAccount returns the account key that holds the traded token.
func (t *TxContext) TraderTokenAccount() (string, error) {
	if len(t.AccountKeys) <= TraderTokenAccountIndex {
		return "", fmt.Errorf("transaction has %d account keys, want > %d", len(t.AccountKeys), TraderTokenAccountIndex)
	}
	return t.AccountKeys[TraderTokenAccountIndex], nil
}

// ChainResolver fetches the chain context the program logs leave out.
type ChainResolver interface {
	ResolveTransaction(ctx context.Context, signature string) (*TxContext, error)
	ResolveMintOfTokenAccount(ctx context.Context, account string) (string, error)
}

// RPCResolver implements ChainResolver over the Solana JSON-RPC API.
type RPCResolver struct {
	rpc solana.RPCClient
}

// NewRPCResolver creates a resolver backed by rpc.
func NewRPCResolver(rpc solana.RPCClient) *RPCResolver {
	return &RPCResolver{rpc: rpc}
}

// ResolveTransaction fetches the fee payer, account keys and block time of signature.
func (r *RPCResolver) ResolveTransaction(ctx context.Context, signature string) (*TxContext, error) {
	tx, err := r.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if tx == nil || tx.Message == nil {
		return nil, fmt.Errorf("%s: %w", signature, ErrTransactionNotFound)
	}

	out := &TxContext{
		FeePayer:    tx.FeePayer(),
		AccountKeys: append([]string(nil), tx.Message.AccountKeys...),
		Slot:        tx.Slot,
		BlockTime:   tx.BlockTime,
	}
	if out.FeePayer == "" {
		return nil, fmt.Errorf("transaction %s has no fee payer", signature)
	}

	// Older nodes omit blockTime on recent slots.
	if out.BlockTime == 0 && tx.Slot > 0 {
		if bt, err := r.rpc.GetBlockTime(ctx, tx.Slot); err == nil && bt != nil {
			out.BlockTime = *bt
		}
	}
	return out, nil
}

// ResolveMintOfTokenAccount reads the mint out of an SPL token account.
func (r *RPCResolver) ResolveMintOfTokenAccount(ctx context.Context, account string) (string, error) {
	return solana.FetchTokenAccountMint(ctx, r.rpc, account)
}

var _ ChainResolver = (*RPCResolver)(nil)
