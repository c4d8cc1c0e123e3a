package stub

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/mr-tron/base58"

	"openclaw-indexer/internal/solana"
)

// ErrNotFound is returned when a transaction or account is not found and
// ReturnNil is false.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Accounts     map[string]*solana.AccountInfo
	BlockTimes   map[int64]int64

	// Err, when set, is returned by every call.
	Err error
	// ReturnNil makes missing entries answer nil, nil like a real node.
	ReturnNil bool

	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Accounts:     make(map[string]*solana.AccountInfo),
		BlockTimes:   make(map[int64]int64),
		calls:        make(map[string]int),
	}
}

func (c *RPCClient) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.Err
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	if err := c.record("getTransaction"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	tx, ok := c.Transactions[signature]
	c.mu.Unlock()
	if !ok {
		if c.ReturnNil {
			return nil, nil
		}
		return nil, ErrNotFound
	}
	return tx, nil
}

// GetAccountInfo retrieves an account from the stub store.
func (c *RPCClient) GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error) {
	if err := c.record("getAccountInfo"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	info, ok := c.Accounts[pubkey]
	c.mu.Unlock()
	if !ok {
		if c.ReturnNil {
			return nil, nil
		}
		return nil, ErrNotFound
	}
	return info, nil
}

// GetBlockTime returns the stored block time of slot, or nil.
func (c *RPCClient) GetBlockTime(_ context.Context, slot int64) (*int64, error) {
	if err := c.record("getBlockTime"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bt, ok := c.BlockTimes[slot]
	if !ok {
		return nil, nil
	}
	return &bt, nil
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddTokenAccount stores an SPL token account whose data starts with mint.
func (c *RPCClient) AddTokenAccount(account, mint string) error {
	raw, err := base58.Decode(mint)
	if err != nil {
		return err
	}
	data := make([]byte, 165)
	copy(data, raw)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[account] = &solana.AccountInfo{
		Owner: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Data:  base64.StdEncoding.EncodeToString(data),
	}
	return nil
}

var _ solana.RPCClient = (*RPCClient)(nil)
