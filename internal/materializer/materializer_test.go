package materializer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/pricing"
	"openclaw-indexer/internal/solana"
	"openclaw-indexer/internal/solana/stub"
	"openclaw-indexer/internal/storage"
	"openclaw-indexer/internal/storage/memory"
)

const (
	programID = "11111111111111111111111111111111"
	mintA     = "So11111111111111111111111111111111111111112"
	mintB     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	blockTime = int64(1_700_000_000)
)

type capture struct {
	mu      sync.Mutex
	updates []domain.Update
}

func (c *capture) PublishUpdate(_ context.Context, u domain.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return nil
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.updates))
	for i, u := range c.updates {
		out[i] = u.UpdateType()
	}
	return out
}

type fixture struct {
	t     *testing.T
	rpc   *stub.RPCClient
	store *memory.StateStore
	pub   *capture
	ticks *memory.TradeTickStore
	m     *Materializer
}

func newFixture(t *testing.T, store storage.StateStore) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		rpc:   stub.NewRPCClient(),
		store: memory.NewStateStore(),
		pub:   &capture{},
		ticks: memory.NewTradeTickStore(),
	}
	if store == nil {
		store = f.store
	}
	m, err := New(Options{
		Store:                store,
		Resolver:             NewRPCResolver(f.rpc),
		ProgramID:            programID,
		Publisher:            f.pub,
		Recorder:             f.ticks,
		ResolveTimeout:       time.Second,
		MaxStoreRetries:      3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
		Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) addTx(sig string, keys ...string) {
	f.rpc.AddTransaction(&solana.Transaction{
		Signature: sig,
		Slot:      100,
		BlockTime: blockTime,
		Message:   &solana.TransactionMessage{AccountKeys: keys},
	})
}

// created registers the creation transaction of mint and returns its batch.
func (f *fixture) created(mint, symbol string) Batch {
	sig := "create-" + mint
	f.addTx(sig, "creator-"+symbol)
	return Batch{Signature: sig, Slot: 100, Events: []domain.Event{
		domain.TokenCreated{EventMeta: domain.EventMeta{Sig: sig}, Name: "Token " + symbol, Symbol: symbol, Mint: mint},
	}}
}

// trade registers a trade transaction whose trader token account holds mint.
func (f *fixture) trade(sig, mint string, dir domain.TradeType, sol, tokens, fee uint64) Batch {
	ata := "ata-" + sig
	f.addTx(sig, "trader-"+sig, "config", "curve", "vault", ata)
	require.NoError(f.t, f.rpc.AddTokenAccount(ata, mint))
	return Batch{Signature: sig, Slot: 101, Events: []domain.Event{
		domain.TradeExecuted{EventMeta: domain.EventMeta{Sig: sig}, Direction: dir, SolAmount: sol, TokenAmount: tokens, FeeAmount: fee},
	}}
}

func migrated(sig, mint string) Batch {
	return Batch{Signature: sig, Slot: 200, Events: []domain.Event{
		domain.Migrated{EventMeta: domain.EventMeta{Sig: sig}, MintHint: mint},
	}}
}

func (f *fixture) apply(b Batch) []Result {
	f.t.Helper()
	p := f.m.Resolve(context.Background(), b)
	require.NoError(f.t, f.m.Apply(context.Background(), p))
	return p.Results
}

func buyQuote(t *testing.T, sol uint64, c *domain.BondingCurve) pricing.BuyQuote {
	t.Helper()
	q, err := pricing.QuoteBuy(sol, c.VirtualSolReserves, c.VirtualTokenReserves, domain.DefaultFeeBps)
	require.NoError(t, err)
	return q
}

func TestMaterializer_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.apply(f.created(mintA, "AAA"))
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	curve, err := f.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	assert.Equal(t, "creator-AAA", curve.Creator)
	assert.Equal(t, domain.DefaultInitialVirtualSolReserves, curve.VirtualSolReserves)
	assert.Equal(t, uint64(0), curve.RealSolReserves)
	assert.Equal(t, blockTime*1000, curve.CreatedAt)
	wantAddr, err := solana.BondingCurveAddress(mintA, programID)
	require.NoError(t, err)
	assert.Equal(t, wantAddr, curve.Address)

	q := buyQuote(t, 1_000_000_000, curve)
	res = f.apply(f.trade("buy-1", mintA, domain.TradeBuy, q.SolIn, q.TokensOut, q.Fee))
	require.NoError(t, res[0].Err)

	curve, err = f.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	assert.Equal(t, q.NewVirtualSol, curve.VirtualSolReserves)
	assert.Equal(t, q.NewVirtualToken, curve.VirtualTokenReserves)
	assert.Equal(t, q.SolAfterFee, curve.RealSolReserves)

	trades, err := f.store.ListTrades(ctx, storage.TradeQuery{Mint: mintA})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "trader-buy-1", trades[0].Trader)
	assert.Equal(t, pricing.TradePrice(q.SolIn, q.TokensOut), trades[0].Price)

	res = f.apply(migrated("mig-1", mintA))
	require.NoError(t, res[0].Err)

	// late trade after migration is ignored
	late := f.trade("buy-2", mintA, domain.TradeBuy, 1_000_000, 1_000, 10_000)
	res = f.apply(late)
	assert.ErrorIs(t, res[0].Err, storage.ErrMigrated)

	after, err := f.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	assert.True(t, after.Migrated)
	require.NotNil(t, after.MigrationTx)
	assert.Equal(t, "mig-1", *after.MigrationTx)
	assert.Equal(t, curve.VirtualSolReserves, after.VirtualSolReserves)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformStats{TotalVolume: q.SolIn, TotalTrades: 1, TotalTokens: 1, TotalMigrated: 1}, stats)

	assert.Equal(t, []string{"newToken", "trade", "price", "migrated"}, f.pub.types())

	candles, err := f.ticks.Candles(ctx, mintA, 60_000, 0, blockTime*1000+1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, uint64(1), candles[0].Trades)
}

func TestMaterializer_PriceUpdateSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.apply(f.created(mintA, "AAA"))
	curve, err := f.store.GetToken(context.Background(), mintA)
	require.NoError(t, err)
	q := buyQuote(t, 2_000_000_000, curve)
	f.apply(f.trade("buy-1", mintA, domain.TradeBuy, q.SolIn, q.TokensOut, q.Fee))

	var price domain.PriceUpdate
	for _, u := range f.pub.updates {
		if p, ok := u.(domain.PriceUpdate); ok {
			price = p
		}
	}
	assert.Equal(t, mintA, price.Mint)
	assert.Equal(t, pricing.SpotPrice(q.NewVirtualSol, q.NewVirtualToken), price.Price)
	assert.Equal(t, pricing.MarketCap(q.NewVirtualSol, q.NewVirtualToken, domain.DefaultTotalSupply), price.MarketCap)
	assert.Equal(t, pricing.MigrationProgressBps(q.SolAfterFee, domain.DefaultMigrationThresholdLamports), price.MigrationProgressBps)
}

func TestMaterializer_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	create := f.created(mintA, "AAA")
	buy := f.trade("buy-1", mintA, domain.TradeBuy, 1_000_000_000, 31_945_788_964_182, 10_000_000)
	mig := migrated("mig-1", mintA)

	for _, b := range []Batch{create, buy, mig} {
		f.apply(b)
	}
	snapshot, err := f.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	txCalls := f.rpc.Calls("getTransaction")
	published := len(f.pub.types())

	for _, b := range []Batch{create, buy, mig} {
		res := f.apply(b)
		require.Len(t, res, 1)
		assert.ErrorIs(t, res[0].Err, ErrDuplicateEvent)
		assert.False(t, res[0].Applied())
	}

	again, err := f.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	assert.Equal(t, snapshot, again)
	statsAgain, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, statsAgain)
	assert.Equal(t, txCalls, f.rpc.Calls("getTransaction"), "duplicates must not hit the chain")
	assert.Len(t, f.pub.types(), published)
}

func TestMaterializer_UnresolvedTrade(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.apply(f.created(mintA, "AAA"))

	// trader token account holds a mint that was never created
	res := f.apply(f.trade("buy-unknown", mintB, domain.TradeBuy, 1_000_000, 1_000, 10_000))
	assert.ErrorIs(t, res[0].Err, ErrUnresolvedToken)

	// transaction unknown to the node
	res = f.apply(Batch{Signature: "missing", Events: []domain.Event{
		domain.TradeExecuted{EventMeta: domain.EventMeta{Sig: "missing"}, Direction: domain.TradeBuy, SolAmount: 1, TokenAmount: 1},
	}})
	assert.ErrorIs(t, res[0].Err, ErrUnresolvedToken)

	// too few account keys to locate the token account
	f.addTx("short", "trader")
	res = f.apply(Batch{Signature: "short", Events: []domain.Event{
		domain.TradeExecuted{EventMeta: domain.EventMeta{Sig: "short"}, Direction: domain.TradeBuy, SolAmount: 1, TokenAmount: 1},
	}})
	assert.ErrorIs(t, res[0].Err, ErrUnresolvedToken)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.TotalTrades)
	exists, err := f.store.TradeExists(ctx, "buy-unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMaterializer_CreationWithoutTransactionIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	res := f.apply(Batch{Signature: "gone", Events: []domain.Event{
		domain.TokenCreated{EventMeta: domain.EventMeta{Sig: "gone"}, Name: "X", Symbol: "X", Mint: mintA},
	}})
	assert.ErrorIs(t, res[0].Err, ErrUnresolvedToken)

	exists, err := f.store.TokenExists(context.Background(), mintA)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMaterializer_MigrationOfUnknownToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.apply(migrated("mig-x", mintB))
	assert.ErrorIs(t, res[0].Err, storage.ErrNotFound)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformStats{}, stats)
	assert.Empty(t, f.pub.types())
}

func TestMaterializer_TokensOnDifferentCurvesCommute(t *testing.T) {
	run := func(order []string) (*domain.BondingCurve, *domain.BondingCurve, domain.PlatformStats) {
		f := newFixture(t, nil)
		batches := map[string]Batch{
			"createA": f.created(mintA, "AAA"),
			"createB": f.created(mintB, "BBB"),
			"buyA1":   f.trade("buyA1", mintA, domain.TradeBuy, 1_000_000_000, 31_945_788_964_182, 10_000_000),
			"buyA2":   f.trade("buyA2", mintA, domain.TradeBuy, 500_000_000, 14_000_000_000_000, 5_000_000),
			"buyB1":   f.trade("buyB1", mintB, domain.TradeBuy, 3_000_000_000, 90_000_000_000_000, 30_000_000),
			"sellB1":  f.trade("sellB1", mintB, domain.TradeSell, 1_000_000_000, 30_000_000_000_000, 10_000_000),
		}
		for _, name := range order {
			for _, r := range f.apply(batches[name]) {
				require.NoError(t, r.Err, name)
			}
		}
		ctx := context.Background()
		a, err := f.store.GetToken(ctx, mintA)
		require.NoError(t, err)
		b, err := f.store.GetToken(ctx, mintB)
		require.NoError(t, err)
		stats, err := f.store.GetStats(ctx)
		require.NoError(t, err)
		return a, b, stats
	}

	a1, b1, s1 := run([]string{"createA", "createB", "buyA1", "buyB1", "buyA2", "sellB1"})
	a2, b2, s2 := run([]string{"createB", "buyB1", "sellB1", "createA", "buyA1", "buyA2"})

	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
	assert.Equal(t, s1, s2)
	assert.Equal(t, uint64(1_000_000_000+500_000_000+3_000_000_000+1_010_000_000), s1.TotalVolume)
}

func TestMaterializer_ConfigUpdate(t *testing.T) {
	f := newFixture(t, nil)
	fee := uint16(250)
	threshold := uint64(100_000_000_000)

	res := f.apply(Batch{Signature: "admin", Events: []domain.Event{
		domain.ConfigUpdated{EventMeta: domain.EventMeta{Sig: "admin"}, FeeBps: &fee},
		domain.ConfigUpdated{EventMeta: domain.EventMeta{Sig: "admin", Index: 1}, MigrationThreshold: &threshold},
	}})
	require.Len(t, res, 2)
	require.NoError(t, res[0].Err)
	require.NoError(t, res[1].Err)

	cfg := f.m.Config().Load()
	assert.Equal(t, uint16(250), cfg.FeeBps)
	assert.Equal(t, threshold, cfg.MigrationThresholdLamports)

	tooHigh := uint16(5000)
	res = f.apply(Batch{Signature: "bad", Events: []domain.Event{
		domain.ConfigUpdated{EventMeta: domain.EventMeta{Sig: "bad"}, FeeBps: &tooHigh},
	}})
	assert.ErrorIs(t, res[0].Err, storage.ErrInvalidInput)
	assert.Equal(t, uint16(250), f.m.Config().Load().FeeBps)
}

func TestMaterializer_ClockFallback(t *testing.T) {
	f := newFixture(t, nil)
	fixed := time.UnixMilli(1_750_000_000_123)
	f.m.now = func() time.Time { return fixed }

	f.rpc.AddTransaction(&solana.Transaction{
		Signature: "create-noclock",
		Message:   &solana.TransactionMessage{AccountKeys: []string{"creator"}},
	})
	f.apply(Batch{Signature: "create-noclock", Events: []domain.Event{
		domain.TokenCreated{EventMeta: domain.EventMeta{Sig: "create-noclock"}, Name: "N", Symbol: "N", Mint: mintA},
	}})

	curve, err := f.store.GetToken(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, fixed.UnixMilli(), curve.CreatedAt)
}

// flakyStore fails ApplyTrade with a transient error a fixed number of times.
type flakyStore struct {
	*memory.StateStore
	mu       sync.Mutex
	failures int
	calls    int
}

var errConnReset = errors.New("connection reset by peer")

func (s *flakyStore) ApplyTrade(ctx context.Context, trade *domain.Trade, delta domain.ReserveDelta) (*domain.BondingCurve, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, errConnReset
	}
	return s.StateStore.ApplyTrade(ctx, trade, delta)
}

func TestMaterializer_RetriesTransientStoreErrors(t *testing.T) {
	store := &flakyStore{StateStore: memory.NewStateStore(), failures: 2}
	f := newFixture(t, store)
	f.store = store.StateStore

	f.apply(f.created(mintA, "AAA"))
	res := f.apply(f.trade("buy-1", mintA, domain.TradeBuy, 1_000_000_000, 31_945_788_964_182, 10_000_000))
	require.NoError(t, res[0].Err)
	assert.Equal(t, 3, store.calls)
}

func TestMaterializer_ExhaustedRetriesAreFatal(t *testing.T) {
	store := &flakyStore{StateStore: memory.NewStateStore(), failures: 100}
	f := newFixture(t, store)

	require.NoError(t, f.m.Process(context.Background(), f.created(mintA, "AAA")))
	err := f.m.Process(context.Background(), f.trade("buy-1", mintA, domain.TradeBuy, 1_000_000_000, 31_945_788_964_182, 10_000_000))
	require.ErrorIs(t, err, ErrStateStoreConflict)
	assert.ErrorIs(t, err, errConnReset)
	assert.Equal(t, 4, store.calls, "one attempt plus three retries")
}

func TestRPCResolver_BlockTimeFallback(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.AddTransaction(&solana.Transaction{
		Signature: "sig",
		Slot:      42,
		Message:   &solana.TransactionMessage{AccountKeys: []string{"payer"}},
	})
	rpc.BlockTimes[42] = blockTime

	tx, err := NewRPCResolver(rpc).ResolveTransaction(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, "payer", tx.FeePayer)
	assert.Equal(t, blockTime, tx.BlockTime)

	rpc.ReturnNil = true
	_, err = NewRPCResolver(rpc).ResolveTransaction(context.Background(), "other")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestConfigHolder_Swap(t *testing.T) {
	h := NewConfigHolder(domain.DefaultGlobalConfig())
	next := domain.DefaultGlobalConfig()
	next.FeeBps = 0

	old := h.Swap(next)
	assert.Equal(t, domain.DefaultFeeBps, old.FeeBps)
	assert.Equal(t, uint16(0), h.Load().FeeBps)
}
