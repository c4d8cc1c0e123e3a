package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrAccountNotFound is returned when a token account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// ParseTokenAccountMint parses SPL token account data and returns the mint address.
// Token account layout: mint(32) | owner(32) | amount(8) | ...
func ParseTokenAccountMint(data string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode token account data: %w", err)
	}
	if len(decoded) < 32 {
		return "", fmt.Errorf("token account data too short: %d", len(decoded))
	}
	return base58.Encode(decoded[:32]), nil
}

// FetchTokenAccountMint retrieves the mint address of a token account.
func FetchTokenAccountMint(ctx context.Context, rpc RPCClient, tokenAccount string) (string, error) {
	info, err := rpc.GetAccountInfo(ctx, tokenAccount)
	if err != nil {
		return "", err
	}
	if info == nil || info.Data == "" {
		return "", fmt.Errorf("token account %s: %w", tokenAccount, ErrAccountNotFound)
	}
	return ParseTokenAccountMint(info.Data)
}
