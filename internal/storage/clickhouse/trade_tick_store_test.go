package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

func TestTradeTickStore_RecordAndCandles(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeTickStore(conn)

	curve := &domain.BondingCurve{VirtualSolReserves: 30_990_000_000, VirtualTokenReserves: 968_054_211_035_818}
	ticks := []*domain.Trade{
		{Signature: "s1", Mint: "mintA", Trader: "t", Type: domain.TradeBuy, SolAmount: 100, TokenAmount: 1, Price: 30, Timestamp: 60_000},
		{Signature: "s2", Mint: "mintA", Trader: "t", Type: domain.TradeSell, SolAmount: 200, TokenAmount: 1, Price: 35, Timestamp: 70_000},
		{Signature: "s3", Mint: "mintA", Trader: "t", Type: domain.TradeBuy, SolAmount: 300, TokenAmount: 1, Price: 28, Timestamp: 110_000},
		{Signature: "s4", Mint: "mintA", Trader: "t", Type: domain.TradeBuy, SolAmount: 400, TokenAmount: 1, Price: 40, Timestamp: 130_000},
		{Signature: "x1", Mint: "mintB", Trader: "t", Type: domain.TradeBuy, SolAmount: 1, TokenAmount: 1, Price: 99, Timestamp: 60_000},
	}
	for _, tr := range ticks {
		require.NoError(t, store.RecordTrade(ctx, tr, curve))
	}
	// Re-recording collapses under FINAL.
	require.NoError(t, store.RecordTrade(ctx, ticks[0], curve))

	candles, err := store.Candles(ctx, "mintA", 60_000, 0, 200_000)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, domain.Candle{Time: 60_000, Open: 30, High: 35, Low: 28, Close: 28, Volume: 600, Trades: 3}, candles[0])
	assert.Equal(t, domain.Candle{Time: 120_000, Open: 40, High: 40, Low: 40, Close: 40, Volume: 400, Trades: 1}, candles[1])
}

func TestTradeTickStore_InvalidInput(t *testing.T) {
	store := NewTradeTickStore(nil)

	err := store.RecordTrade(context.Background(), nil, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Candles(context.Background(), "mintA", 0, 0, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestParseDSN(t *testing.T) {
	opts, err := parseDSN("clickhouse://user:pw@db.local/openclaw")
	require.NoError(t, err)
	assert.Equal(t, []string{"db.local:9000"}, opts.Addr)
	assert.Equal(t, "user", opts.Auth.Username)
	assert.Equal(t, "pw", opts.Auth.Password)
	assert.Equal(t, "openclaw", opts.Auth.Database)
}
