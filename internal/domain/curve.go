package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrReserveUnderflow is returned when a reserve delta would drive a reserve below zero
// or past the uint64 range.
var ErrReserveUnderflow = errors.New("reserve delta out of range")

// CurveState is the lifecycle state of a bonding curve.
type CurveState string

const (
	CurveCreated  CurveState = "CREATED"
	CurveTrading  CurveState = "TRADING"
	CurveMigrated CurveState = "MIGRATED"
)

// BondingCurve is the materialized view of one token's on-chain curve account.
// Corresponds to tokens table in PostgreSQL.
type BondingCurve struct {
	Mint                 string  // token mint address, unique
	Address              string  // bonding curve PDA derived from mint
	Name                 string  // token name from creation log
	Symbol               string  // token symbol from creation log
	Creator              string  // fee payer of the creation transaction
	VirtualSolReserves   uint64  // lamports used for pricing
	VirtualTokenReserves uint64  // token base units used for pricing
	RealSolReserves      uint64  // lamports actually escrowed
	RealTokenReserves    uint64  // token base units actually escrowed
	TokensSold           uint64  // base units sold out of the curve
	TradeCount           uint64  // trades applied since creation
	Migrated             bool    // terminal flag
	MigrationTx          *string // signature of the migration transaction
	CreationTx           string  // signature of the creation transaction
	CreatedAt            int64   // Unix timestamp in milliseconds
	UpdatedAt            int64   // Unix timestamp in milliseconds of the last mutation
}

// State derives the lifecycle state from the curve fields.
func (c *BondingCurve) State() CurveState {
	switch {
	case c.Migrated:
		return CurveMigrated
	case c.TradeCount > 0:
		return CurveTrading
	default:
		return CurveCreated
	}
}

// Clone returns a deep copy of the curve.
func (c *BondingCurve) Clone() *BondingCurve {
	out := *c
	if c.MigrationTx != nil {
		tx := *c.MigrationTx
		out.MigrationTx = &tx
	}
	return &out
}

// NewBondingCurve builds the initial curve state for a freshly created token.
// Real SOL starts empty, real tokens hold the whole supply minted into the curve vault.
func NewBondingCurve(mint, address, creator string, cfg GlobalConfig) *BondingCurve {
	return &BondingCurve{
		Mint:                 mint,
		Address:              address,
		Creator:              creator,
		VirtualSolReserves:   cfg.InitialVirtualSolReserves,
		VirtualTokenReserves: cfg.InitialVirtualTokenReserves,
		RealSolReserves:      0,
		RealTokenReserves:    cfg.InitialVirtualTokenReserves,
	}
}

// ReserveDelta is the reserve movement caused by one executed trade.
// For BUY, Sol enters the curve and Tokens leave it; for SELL the reverse.
type ReserveDelta struct {
	Direction TradeType
	Sol       uint64 // lamports moved in or out of the curve
	Tokens    uint64 // token base units moved in or out of the curve
}

// DeltaForTrade converts log amounts into a reserve delta.
// Buy logs report gross SOL; the fee never reaches the curve.
// Sell logs report net SOL; the curve pays out net + fee.
func DeltaForTrade(direction TradeType, solAmount, tokenAmount, fee uint64) (ReserveDelta, error) {
	switch direction {
	case TradeBuy:
		if fee > solAmount {
			return ReserveDelta{}, fmt.Errorf("buy fee %d exceeds sol amount %d: %w", fee, solAmount, ErrReserveUnderflow)
		}
		return ReserveDelta{Direction: TradeBuy, Sol: solAmount - fee, Tokens: tokenAmount}, nil
	case TradeSell:
		if solAmount > math.MaxUint64-fee {
			return ReserveDelta{}, fmt.Errorf("sell sol amount overflows: %w", ErrReserveUnderflow)
		}
		return ReserveDelta{Direction: TradeSell, Sol: solAmount + fee, Tokens: tokenAmount}, nil
	default:
		return ReserveDelta{}, fmt.Errorf("unknown trade direction %q", direction)
	}
}

// Apply mutates the curve reserves by d. The curve is left untouched on error.
func (c *BondingCurve) Apply(d ReserveDelta) error {
	next := *c
	switch d.Direction {
	case TradeBuy:
		if !addOK(next.VirtualSolReserves, d.Sol) || !addOK(next.RealSolReserves, d.Sol) || !addOK(next.TokensSold, d.Tokens) {
			return ErrReserveUnderflow
		}
		if next.VirtualTokenReserves < d.Tokens || next.RealTokenReserves < d.Tokens {
			return ErrReserveUnderflow
		}
		next.VirtualSolReserves += d.Sol
		next.RealSolReserves += d.Sol
		next.VirtualTokenReserves -= d.Tokens
		next.RealTokenReserves -= d.Tokens
		next.TokensSold += d.Tokens
	case TradeSell:
		if next.VirtualSolReserves < d.Sol || next.RealSolReserves < d.Sol || next.TokensSold < d.Tokens {
			return ErrReserveUnderflow
		}
		if !addOK(next.VirtualTokenReserves, d.Tokens) || !addOK(next.RealTokenReserves, d.Tokens) {
			return ErrReserveUnderflow
		}
		next.VirtualSolReserves -= d.Sol
		next.RealSolReserves -= d.Sol
		next.VirtualTokenReserves += d.Tokens
		next.RealTokenReserves += d.Tokens
		next.TokensSold -= d.Tokens
	default:
		return fmt.Errorf("unknown trade direction %q", d.Direction)
	}
	next.TradeCount++
	*c = next
	return nil
}

func addOK(a, b uint64) bool {
	return a <= math.MaxUint64-b
}
