package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Display helpers. Output is for humans only and never fed back into quotes.

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	billion  = decimal.NewFromInt(1_000_000_000)
)

func fromUnits(v uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals)
}

// LamportsToSOL converts lamports to an exact SOL decimal.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return fromUnits(lamports, 9)
}

// FormatSOL renders lamports as SOL with a precision that depends on magnitude.
func FormatSOL(lamports uint64) string {
	sol := LamportsToSOL(lamports)
	switch {
	case sol.LessThan(decimal.New(1, -3)):
		return sol.StringFixed(6)
	case sol.LessThan(decimal.NewFromInt(1)):
		return sol.StringFixed(4)
	case sol.GreaterThanOrEqual(million):
		return sol.Div(million).StringFixed(2) + "M"
	case sol.GreaterThanOrEqual(thousand):
		return sol.Div(thousand).StringFixed(2) + "K"
	default:
		return sol.StringFixed(2)
	}
}

// FormatTokens renders token base units as whole tokens with a K/M/B suffix.
func FormatTokens(amount uint64, decimals int32) string {
	tokens := fromUnits(amount, decimals)
	switch {
	case tokens.GreaterThanOrEqual(billion):
		return tokens.Div(billion).StringFixed(2) + "B"
	case tokens.GreaterThanOrEqual(million):
		return tokens.Div(million).StringFixed(2) + "M"
	case tokens.GreaterThanOrEqual(thousand):
		return tokens.Div(thousand).StringFixed(2) + "K"
	default:
		return tokens.StringFixed(2)
	}
}

// FormatPrice renders a lamports-per-token price as SOL per token.
func FormatPrice(lamportsPerToken uint64) string {
	return LamportsToSOL(lamportsPerToken).String()
}

// FormatImpact renders basis points as a signed percentage.
func FormatImpact(bps int64) string {
	return decimal.New(bps, -2).StringFixed(2) + "%"
}
