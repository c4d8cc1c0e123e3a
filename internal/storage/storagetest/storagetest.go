// Package storagetest holds the behavioral suite every storage.StateStore backend must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/storage"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) storage.StateStore

// NewCurve returns a fresh curve with default reserves.
func NewCurve(mint string, createdAt int64) *domain.BondingCurve {
	c := domain.NewBondingCurve(mint, "curve-"+mint, "creator-"+mint, domain.DefaultGlobalConfig())
	c.Name = "Token " + mint
	c.Symbol = "T"
	c.CreationTx = "create-" + mint
	c.CreatedAt = createdAt
	c.UpdatedAt = createdAt
	return c
}

// NewBuy returns a buy of 1 SOL at default reserves and fee.
func NewBuy(sig, mint string, ts int64) *domain.Trade {
	return &domain.Trade{
		Signature:   sig,
		Mint:        mint,
		Trader:      "trader",
		Type:        domain.TradeBuy,
		SolAmount:   1_000_000_000,
		TokenAmount: 31_945_788_964_182,
		FeeAmount:   10_000_000,
		Price:       31,
		Slot:        100,
		Timestamp:   ts,
	}
}

func deltaOf(t *testing.T, trade *domain.Trade) domain.ReserveDelta {
	t.Helper()
	d, err := domain.DeltaForTrade(trade.Type, trade.SolAmount, trade.TokenAmount, trade.FeeAmount)
	require.NoError(t, err)
	return d
}

// RunStateStoreTests exercises the StateStore contract against newStore.
func RunStateStoreTests(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetToken", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		curve := NewCurve("mintA", 1_700_000_000_000)
		require.NoError(t, store.CreateToken(ctx, curve))

		exists, err := store.TokenExists(ctx, "mintA")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := store.GetToken(ctx, "mintA")
		require.NoError(t, err)
		assert.Equal(t, curve.Address, got.Address)
		assert.Equal(t, curve.Creator, got.Creator)
		assert.Equal(t, curve.VirtualSolReserves, got.VirtualSolReserves)
		assert.Equal(t, curve.VirtualTokenReserves, got.VirtualTokenReserves)
		assert.Equal(t, curve.RealTokenReserves, got.RealTokenReserves)
		assert.Equal(t, uint64(0), got.RealSolReserves)
		assert.Equal(t, curve.CreatedAt, got.CreatedAt)
		assert.Equal(t, domain.CurveCreated, got.State())

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.TotalTokens)
	})

	t.Run("CreateTokenDuplicate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))
		err := store.CreateToken(ctx, NewCurve("mintA", 2))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.TotalTokens)
	})

	t.Run("GetTokenNotFound", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetToken(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		exists, err := store.TokenExists(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ApplyTrade", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))

		trade := NewBuy("sig1", "mintA", 1_700_000_001_000)
		curve, err := store.ApplyTrade(ctx, trade, deltaOf(t, trade))
		require.NoError(t, err)
		assert.Equal(t, uint64(30_990_000_000), curve.VirtualSolReserves)
		assert.Equal(t, uint64(990_000_000), curve.RealSolReserves)
		assert.Equal(t, uint64(31_945_788_964_182), curve.TokensSold)
		assert.Equal(t, domain.CurveTrading, curve.State())

		stored, err := store.GetToken(ctx, "mintA")
		require.NoError(t, err)
		assert.Equal(t, curve.VirtualTokenReserves, stored.VirtualTokenReserves)
		assert.Equal(t, uint64(1), stored.TradeCount)

		exists, err := store.TradeExists(ctx, "sig1")
		require.NoError(t, err)
		assert.True(t, exists)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.TotalTrades)
		assert.Equal(t, uint64(1_000_000_000), stats.TotalVolume)
	})

	t.Run("ApplyTradeDuplicateIsRejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))

		trade := NewBuy("sig1", "mintA", 10)
		_, err := store.ApplyTrade(ctx, trade, deltaOf(t, trade))
		require.NoError(t, err)
		before, err := store.GetToken(ctx, "mintA")
		require.NoError(t, err)

		_, err = store.ApplyTrade(ctx, trade, deltaOf(t, trade))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		after, err := store.GetToken(ctx, "mintA")
		require.NoError(t, err)
		assert.Equal(t, before.VirtualSolReserves, after.VirtualSolReserves)
		assert.Equal(t, before.TradeCount, after.TradeCount)

		trades, err := store.ListTrades(ctx, storage.TradeQuery{Mint: "mintA"})
		require.NoError(t, err)
		assert.Len(t, trades, 1)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.TotalTrades)
	})

	t.Run("ApplyTradeUnknownToken", func(t *testing.T) {
		store := newStore(t)
		trade := NewBuy("sig1", "missing", 10)

		_, err := store.ApplyTrade(context.Background(), trade, deltaOf(t, trade))
		assert.ErrorIs(t, err, storage.ErrNotFound)

		exists, err := store.TradeExists(context.Background(), "sig1")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ApplyTradeUnderflowLeavesNoTrace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))

		sell := &domain.Trade{
			Signature: "sell1", Mint: "mintA", Trader: "trader", Type: domain.TradeSell,
			SolAmount: 1_000, TokenAmount: 1_000, FeeAmount: 10, Price: 1_000_000, Timestamp: 10,
		}
		_, err := store.ApplyTrade(ctx, sell, deltaOf(t, sell))
		assert.ErrorIs(t, err, storage.ErrInvalidInput)

		exists, err := store.TradeExists(ctx, "sell1")
		require.NoError(t, err)
		assert.False(t, exists)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalTrades)
		assert.Zero(t, stats.TotalVolume)
	})

	t.Run("MarkMigrated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))

		curve, err := store.MarkMigrated(ctx, "mintA", "migrate1", 50)
		require.NoError(t, err)
		assert.True(t, curve.Migrated)
		require.NotNil(t, curve.MigrationTx)
		assert.Equal(t, "migrate1", *curve.MigrationTx)

		_, err = store.MarkMigrated(ctx, "mintA", "migrate2", 60)
		assert.ErrorIs(t, err, storage.ErrMigrated)

		_, err = store.MarkMigrated(ctx, "missing", "migrate3", 60)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.TotalMigrated)

		stored, err := store.GetToken(ctx, "mintA")
		require.NoError(t, err)
		assert.Equal(t, domain.CurveMigrated, stored.State())
		require.NotNil(t, stored.MigrationTx)
		assert.Equal(t, "migrate1", *stored.MigrationTx)
	})

	t.Run("ApplyTradeAfterMigration", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))
		_, err := store.MarkMigrated(ctx, "mintA", "migrate1", 50)
		require.NoError(t, err)

		trade := NewBuy("late", "mintA", 60)
		_, err = store.ApplyTrade(ctx, trade, deltaOf(t, trade))
		assert.ErrorIs(t, err, storage.ErrMigrated)

		stored, err := store.GetToken(ctx, "mintA")
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultInitialVirtualSolReserves, stored.VirtualSolReserves)
		assert.Zero(t, stored.TradeCount)
	})

	t.Run("ListTradesFilters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintB", 2)))

		for _, tr := range []*domain.Trade{
			NewBuy("a2", "mintA", 200),
			NewBuy("a1", "mintA", 100),
			NewBuy("b1", "mintB", 150),
		} {
			_, err := store.ApplyTrade(ctx, tr, deltaOf(t, tr))
			require.NoError(t, err)
		}

		all, err := store.ListTrades(ctx, storage.TradeQuery{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a1", "b1", "a2"}, []string{all[0].Signature, all[1].Signature, all[2].Signature})

		onlyA, err := store.ListTrades(ctx, storage.TradeQuery{Mint: "mintA", From: 150})
		require.NoError(t, err)
		require.Len(t, onlyA, 1)
		assert.Equal(t, "a2", onlyA[0].Signature)
		assert.Equal(t, uint64(31_945_788_964_182), onlyA[0].TokenAmount)
		assert.Equal(t, domain.TradeBuy, onlyA[0].Type)

		limited, err := store.ListTrades(ctx, storage.TradeQuery{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("ListTradesKeyset", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 1)))
		for _, tr := range []*domain.Trade{
			NewBuy("s3", "mintA", 100),
			NewBuy("s1", "mintA", 100),
			NewBuy("s2", "mintA", 100),
			NewBuy("s0", "mintA", 200),
		} {
			_, err := store.ApplyTrade(ctx, tr, deltaOf(t, tr))
			require.NoError(t, err)
		}

		page, err := store.ListTrades(ctx, storage.TradeQuery{Mint: "mintA", From: 100, AfterSignature: "s1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "s2", page[0].Signature)
		assert.Equal(t, "s3", page[1].Signature)

		page, err = store.ListTrades(ctx, storage.TradeQuery{Mint: "mintA", From: 100, AfterSignature: "s3"})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "s0", page[0].Signature)
	})

	t.Run("ListTokensKeyset", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, c := range []*domain.BondingCurve{NewCurve("m2", 10), NewCurve("m1", 10), NewCurve("m0", 20)} {
			require.NoError(t, store.CreateToken(ctx, c))
		}

		page, err := store.ListTokens(ctx, storage.TokenQuery{CreatedFrom: 10, AfterMint: "m1"})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "m2", page[0].Mint)
		assert.Equal(t, "m0", page[1].Mint)
	})

	t.Run("ListTokensFilters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintB", 20)))
		require.NoError(t, store.CreateToken(ctx, NewCurve("mintA", 10)))
		_, err := store.MarkMigrated(ctx, "mintB", "m", 30)
		require.NoError(t, err)

		all, err := store.ListTokens(ctx, storage.TokenQuery{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "mintA", all[0].Mint)

		migrated := true
		done, err := store.ListTokens(ctx, storage.TokenQuery{Migrated: &migrated})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, "mintB", done[0].Mint)

		byCreator, err := store.ListTokens(ctx, storage.TokenQuery{Creator: "creator-mintA"})
		require.NoError(t, err)
		require.Len(t, byCreator, 1)
		assert.Equal(t, "mintA", byCreator[0].Mint)
	})

	t.Run("IncrementStats", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.IncrementStats(ctx, domain.StatsDelta{Volume: 5, Trades: 2}))
		require.NoError(t, store.IncrementStats(ctx, domain.StatsDelta{Volume: 1, Migrated: 1}))

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.PlatformStats{TotalVolume: 6, TotalTrades: 2, TotalMigrated: 1}, stats)
	})
}

// RunCheckpointStoreTests exercises the CheckpointStore contract.
func RunCheckpointStoreTests(t *testing.T, store storage.CheckpointStore) {
	ctx := context.Background()

	_, err := store.GetCheckpoint(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetCheckpoint(ctx, &storage.Checkpoint{Slot: 10, Signature: "a", UpdatedAt: 1}))
	require.NoError(t, store.SetCheckpoint(ctx, &storage.Checkpoint{Slot: 11, Signature: "b", UpdatedAt: 2}))

	cp, err := store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Checkpoint{Slot: 11, Signature: "b", UpdatedAt: 2}, *cp)
}
