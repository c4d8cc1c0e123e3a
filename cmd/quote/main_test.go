package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/pricing"
)

func TestQuote_Buy(t *testing.T) {
	var buf bytes.Buffer
	r := request{
		side:         "buy",
		amount:       domain.LamportsPerSOL,
		virtualSol:   domain.DefaultInitialVirtualSolReserves,
		virtualToken: domain.DefaultInitialVirtualTokenReserves,
		feeBps:       domain.DefaultFeeBps,
	}
	require.NoError(t, quote(&buf, r))

	q, err := pricing.QuoteBuy(r.amount, r.virtualSol, r.virtualToken, r.feeBps)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "receive")
	assert.Contains(t, out, pricing.FormatTokens(q.TokensOut, domain.TokenDecimals))
	assert.Contains(t, out, "price impact")
}

func TestQuote_Sell(t *testing.T) {
	var buf bytes.Buffer
	r := request{
		side:         "sell",
		amount:       1_000_000_000_000,
		virtualSol:   domain.DefaultInitialVirtualSolReserves,
		virtualToken: domain.DefaultInitialVirtualTokenReserves,
		feeBps:       domain.DefaultFeeBps,
	}
	require.NoError(t, quote(&buf, r))

	impact, err := pricing.SellImpactBps(r.amount, r.virtualSol, r.virtualToken, r.feeBps)
	require.NoError(t, err)
	assert.Less(t, impact, int64(0))
	assert.Contains(t, buf.String(), pricing.FormatImpact(impact))
}

func TestQuote_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, quote(&buf, request{side: "hold", amount: 1, virtualSol: 1, virtualToken: 1}))
	assert.ErrorIs(t, quote(&buf, request{side: "buy", amount: 0, virtualSol: 1, virtualToken: 1}), pricing.ErrInvalidInput)
}
