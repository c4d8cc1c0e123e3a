// Package pricing implements the constant-product bonding curve arithmetic.
// Every intermediate value is computed in 256-bit unsigned integers and
// every division floors, so results match the on-chain program exactly.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// ErrInvalidInput is returned for zero amounts, zero reserves or out of range fees.
var ErrInvalidInput = errors.New("invalid pricing input")

const (
	bpsDenominator = 10_000
	// tokenUnit is 10^decimals; prices are quoted per whole token.
	tokenUnit = 1_000_000
)

// BuyQuote is the result of spending SOL against a curve.
type BuyQuote struct {
	SolIn           uint64 // gross lamports paid
	Fee             uint64 // lamports
	SolAfterFee     uint64 // lamports entering the curve
	TokensOut       uint64 // token base units received
	NewVirtualSol   uint64
	NewVirtualToken uint64
}

// SellQuote is the result of selling tokens into a curve.
type SellQuote struct {
	TokensIn        uint64
	GrossSolOut     uint64 // lamports leaving the curve
	Fee             uint64
	SolOut          uint64 // lamports received by the seller
	NewVirtualSol   uint64
	NewVirtualToken uint64
}

func validate(amount, virtualSol, virtualToken uint64, feeBps uint16) error {
	switch {
	case amount == 0:
		return fmt.Errorf("amount must be positive: %w", ErrInvalidInput)
	case virtualSol == 0 || virtualToken == 0:
		return fmt.Errorf("reserves must be positive: %w", ErrInvalidInput)
	case feeBps > bpsDenominator:
		return fmt.Errorf("fee %d bps exceeds %d: %w", feeBps, bpsDenominator, ErrInvalidInput)
	}
	return nil
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// feeOf returns floor(amount * feeBps / 10000).
func feeOf(amount *uint256.Int, feeBps uint16) *uint256.Int {
	fee := new(uint256.Int).Mul(amount, u(uint64(feeBps)))
	return fee.Div(fee, u(bpsDenominator))
}

// QuoteBuy returns the tokens received for solIn lamports.
func QuoteBuy(solIn, virtualSol, virtualToken uint64, feeBps uint16) (BuyQuote, error) {
	if err := validate(solIn, virtualSol, virtualToken, feeBps); err != nil {
		return BuyQuote{}, err
	}

	in := u(solIn)
	fee := feeOf(in, feeBps)
	afterFee := new(uint256.Int).Sub(in, fee)

	k := new(uint256.Int).Mul(u(virtualSol), u(virtualToken))
	newSol := new(uint256.Int).Add(u(virtualSol), afterFee)
	newToken := new(uint256.Int).Div(k, newSol)
	tokensOut := new(uint256.Int).Sub(u(virtualToken), newToken)

	if !newSol.IsUint64() {
		return BuyQuote{}, fmt.Errorf("virtual sol overflows u64: %w", ErrInvalidInput)
	}

	return BuyQuote{
		SolIn:           solIn,
		Fee:             fee.Uint64(),
		SolAfterFee:     afterFee.Uint64(),
		TokensOut:       tokensOut.Uint64(),
		NewVirtualSol:   newSol.Uint64(),
		NewVirtualToken: newToken.Uint64(),
	}, nil
}

// QuoteSell returns the lamports received for tokenIn base units.
func QuoteSell(tokenIn, virtualSol, virtualToken uint64, feeBps uint16) (SellQuote, error) {
	if err := validate(tokenIn, virtualSol, virtualToken, feeBps); err != nil {
		return SellQuote{}, err
	}

	k := new(uint256.Int).Mul(u(virtualSol), u(virtualToken))
	newToken := new(uint256.Int).Add(u(virtualToken), u(tokenIn))
	newSol := new(uint256.Int).Div(k, newToken)
	gross := new(uint256.Int).Sub(u(virtualSol), newSol)
	fee := feeOf(gross, feeBps)
	out := new(uint256.Int).Sub(gross, fee)

	if !newToken.IsUint64() {
		return SellQuote{}, fmt.Errorf("virtual tokens overflow u64: %w", ErrInvalidInput)
	}

	return SellQuote{
		TokensIn:        tokenIn,
		GrossSolOut:     gross.Uint64(),
		Fee:             fee.Uint64(),
		SolOut:          out.Uint64(),
		NewVirtualSol:   newSol.Uint64(),
		NewVirtualToken: newToken.Uint64(),
	}, nil
}

// PriceImpactBps returns round((after-before)/before*10000), half away from zero.
func PriceImpactBps(before, after uint64) (int64, error) {
	if before == 0 {
		return 0, fmt.Errorf("price before must be positive: %w", ErrInvalidInput)
	}
	return ratioImpactBps(u(after), u(before))
}

// ratioImpactBps returns round((num-den)/den*10000) for the ratio num/den.
func ratioImpactBps(num, den *uint256.Int) (int64, error) {
	neg := num.Lt(den)
	diff := new(uint256.Int)
	if neg {
		diff.Sub(den, num)
	} else {
		diff.Sub(num, den)
	}

	scaled, overflow := new(uint256.Int).MulOverflow(diff, u(bpsDenominator))
	if overflow {
		return 0, fmt.Errorf("price impact overflows: %w", ErrInvalidInput)
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(scaled, den, r)
	// half away from zero: bump when 2r >= den
	if new(uint256.Int).Lsh(r, 1).Cmp(den) >= 0 {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() || q.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("price impact overflows: %w", ErrInvalidInput)
	}

	bps := int64(q.Uint64())
	if neg {
		bps = -bps
	}
	return bps, nil
}

// BuyImpactBps quotes a buy and returns the spot price impact it causes.
// The ratio is taken on exact reserves, not on the truncated integer prices.
func BuyImpactBps(solIn, virtualSol, virtualToken uint64, feeBps uint16) (int64, error) {
	q, err := QuoteBuy(solIn, virtualSol, virtualToken, feeBps)
	if err != nil {
		return 0, err
	}
	return reserveImpactBps(virtualSol, virtualToken, q.NewVirtualSol, q.NewVirtualToken)
}

// SellImpactBps quotes a sell and returns the spot price impact it causes.
func SellImpactBps(tokenIn, virtualSol, virtualToken uint64, feeBps uint16) (int64, error) {
	q, err := QuoteSell(tokenIn, virtualSol, virtualToken, feeBps)
	if err != nil {
		return 0, err
	}
	return reserveImpactBps(virtualSol, virtualToken, q.NewVirtualSol, q.NewVirtualToken)
}

func reserveImpactBps(sol0, tok0, sol1, tok1 uint64) (int64, error) {
	if tok1 == 0 {
		return 0, fmt.Errorf("curve drained: %w", ErrInvalidInput)
	}
	// (sol1/tok1) / (sol0/tok0) = sol1*tok0 / (tok1*sol0)
	num := new(uint256.Int).Mul(u(sol1), u(tok0))
	den := new(uint256.Int).Mul(u(tok1), u(sol0))
	return ratioImpactBps(num, den)
}

// saturate clamps v into the uint64 range.
func saturate(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// SpotPrice returns the curve price in lamports per whole token.
// Returns 0 for an empty token reserve.
func SpotPrice(virtualSol, virtualToken uint64) uint64 {
	return TradePrice(virtualSol, virtualToken)
}

// TradePrice returns the execution price of a trade in lamports per whole token.
func TradePrice(sol, tokens uint64) uint64 {
	if tokens == 0 {
		return 0
	}
	p := new(uint256.Int).Mul(u(sol), u(tokenUnit))
	return saturate(p.Div(p, u(tokens)))
}

// MarketCap returns the fully diluted value of supply at the curve price, in lamports.
func MarketCap(virtualSol, virtualToken, supply uint64) uint64 {
	if virtualToken == 0 {
		return 0
	}
	m := new(uint256.Int).Mul(u(virtualSol), u(supply))
	return saturate(m.Div(m, u(virtualToken)))
}

// MigrationProgressBps returns how far realSol is towards threshold, capped at 10000.
func MigrationProgressBps(realSol, threshold uint64) uint64 {
	if threshold == 0 || realSol >= threshold {
		return bpsDenominator
	}
	p := new(uint256.Int).Mul(u(realSol), u(bpsDenominator))
	return p.Div(p, u(threshold)).Uint64()
}

// MigrationReady reports whether a curve holds enough SOL to migrate.
func MigrationReady(realSol, threshold uint64) bool {
	return realSol >= threshold
}
