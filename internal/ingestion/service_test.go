package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/logparse"
	"openclaw-indexer/internal/materializer"
	"openclaw-indexer/internal/solana"
	"openclaw-indexer/internal/solana/stub"
	"openclaw-indexer/internal/storage"
	"openclaw-indexer/internal/storage/memory"
)

const testMint = "So11111111111111111111111111111111111111112"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// orderProcessor resolves with random latency and records apply order.
type orderProcessor struct {
	mu      sync.Mutex
	applied []string
	failOn  string
	block   chan struct{}
}

func (p *orderProcessor) Resolve(ctx context.Context, b materializer.Batch) *materializer.Prepared {
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}
	return &materializer.Prepared{Batch: b}
}

func (p *orderProcessor) Apply(ctx context.Context, prep *materializer.Prepared) error {
	if prep.Batch.Signature == p.failOn {
		return fmt.Errorf("boom: %w", materializer.ErrStateStoreConflict)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, prep.Batch.Signature)
	return nil
}

func (p *orderProcessor) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func buyNotification(sig string, slot int64) solana.LogNotification {
	return solana.LogNotification{
		Signature: sig,
		Slot:      slot,
		Logs:      []string{"Program log: Buy: 100 lamports -> 5 tokens (fee: 1 lamports)"},
	}
}

func newTestService(t *testing.T, src LogSource, proc Processor, opts ServiceOptions) *Service {
	t.Helper()
	opts.Source = src
	opts.Processor = proc
	opts.Logger = discardLogger()
	svc, err := NewService(opts)
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(ServiceOptions{Processor: &orderProcessor{}})
	assert.Error(t, err)
	_, err = NewService(ServiceOptions{Source: NewChannelSource(1)})
	assert.Error(t, err)
}

func TestService_AppliesInDeliveryOrder(t *testing.T) {
	src := NewChannelSource(256)
	proc := &orderProcessor{}
	svc := newTestService(t, src, proc, ServiceOptions{ResolveConcurrency: 8, Lookahead: 16})
	require.NoError(t, svc.Start(context.Background()))

	var want []string
	for i := 0; i < 100; i++ {
		sig := fmt.Sprintf("sig-%03d", i)
		want = append(want, sig)
		// Slots deliberately out of order: delivery order wins.
		src.Push(buyNotification(sig, int64(1000-i)))
	}

	require.Eventually(t, func() bool { return len(proc.order()) == len(want) }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, proc.order())

	require.NoError(t, svc.Stop(context.Background()))
	assert.True(t, src.Closed())
	assert.Equal(t, uint64(100), svc.Stats().Applied)
}

func TestService_SkipsFailedAndEmpty(t *testing.T) {
	src := NewChannelSource(8)
	proc := &orderProcessor{}
	svc := newTestService(t, src, proc, ServiceOptions{})
	require.NoError(t, svc.Start(context.Background()))

	failed := buyNotification("failed", 1)
	failed.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
	src.Push(failed)
	src.Push(solana.LogNotification{Signature: "noise", Slot: 2, Logs: []string{"Program log: hello"}})
	src.Push(solana.LogNotification{Signature: "bad", Slot: 3, Logs: []string{"Program log: Buy: x lamports -> 1 tokens (fee: 0 lamports)"}})
	src.Push(buyNotification("ok", 4))

	require.Eventually(t, func() bool { return svc.Stats().Applied == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	stats := svc.Stats()
	assert.Equal(t, uint64(4), stats.Received)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Mismatches)
	assert.Equal(t, uint64(1), stats.Batches)
	assert.Equal(t, []string{"ok"}, proc.order())
}

func TestService_StopDrainsQueue(t *testing.T) {
	src := NewChannelSource(32)
	proc := &orderProcessor{block: make(chan struct{})}
	svc := newTestService(t, src, proc, ServiceOptions{Lookahead: 32})
	require.NoError(t, svc.Start(context.Background()))

	for i := 0; i < 10; i++ {
		src.Push(buyNotification(fmt.Sprintf("sig-%d", i), int64(i)))
	}
	require.Eventually(t, func() bool { return svc.Stats().Batches == 10 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- svc.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("stop returned before queued batches were applied")
	case <-time.After(20 * time.Millisecond):
	}
	close(proc.block)

	require.NoError(t, <-stopped)
	assert.Len(t, proc.order(), 10)
}

func TestService_StopDeadlineAbandonsWork(t *testing.T) {
	src := NewChannelSource(4)
	proc := &orderProcessor{block: make(chan struct{})}
	svc := newTestService(t, src, proc, ServiceOptions{})
	require.NoError(t, svc.Start(context.Background()))

	src.Push(buyNotification("stuck", 1))
	require.Eventually(t, func() bool { return svc.Stats().Batches == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, proc.order())

	select {
	case <-svc.Done():
	default:
		t.Fatal("service still running after Stop returned")
	}
}

func TestService_FatalApplyError(t *testing.T) {
	src := NewChannelSource(8)
	proc := &orderProcessor{failOn: "sig-1"}
	svc := newTestService(t, src, proc, ServiceOptions{})
	require.NoError(t, svc.Start(context.Background()))

	src.Push(buyNotification("sig-0", 1))
	src.Push(buyNotification("sig-1", 2))
	src.Push(buyNotification("sig-2", 3))

	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop on fatal error")
	}
	assert.ErrorIs(t, svc.Err(), materializer.ErrStateStoreConflict)
	assert.Equal(t, []string{"sig-0"}, proc.order())
	assert.True(t, src.Closed())
}

func TestService_SourceEnded(t *testing.T) {
	src := NewChannelSource(1)
	svc := newTestService(t, src, &orderProcessor{}, ServiceOptions{})
	require.NoError(t, svc.Start(context.Background()))

	src.End()
	select {
	case <-svc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop when the source ended")
	}
	assert.ErrorIs(t, svc.Err(), ErrSourceClosed)
}

func TestService_StartTwice(t *testing.T) {
	svc := newTestService(t, NewChannelSource(1), &orderProcessor{}, ServiceOptions{})
	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}

// fakeWSClient is one dialed connection; Close ends its stream.
type fakeWSClient struct {
	ch     chan solana.LogNotification
	once   sync.Once
	closed atomic.Bool
}

func (c *fakeWSClient) SubscribeLogs(context.Context, solana.LogsFilter) (<-chan solana.LogNotification, error) {
	return c.ch, nil
}

func (c *fakeWSClient) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.ch)
	})
	return nil
}

func TestService_RestartAfterStop(t *testing.T) {
	var clients []*fakeWSClient
	src := NewWSLogSource(func(context.Context) (solana.WSClient, error) {
		c := &fakeWSClient{ch: make(chan solana.LogNotification, 8)}
		clients = append(clients, c)
		return c, nil
	}, "program")
	proc := &orderProcessor{}
	svc := newTestService(t, src, proc, ServiceOptions{})

	select {
	case <-svc.Done():
	default:
		t.Fatal("Done of a never started service should be closed")
	}

	require.NoError(t, svc.Start(context.Background()))
	clients[0].ch <- buyNotification("first", 1)
	require.Eventually(t, func() bool { return svc.Stats().Applied == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))
	assert.True(t, clients[0].closed.Load())

	require.NoError(t, svc.Start(context.Background()))
	require.Len(t, clients, 2)
	clients[1].ch <- buyNotification("second", 2)
	require.Eventually(t, func() bool { return svc.Stats().Applied == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	<-svc.Done()
	assert.NoError(t, svc.Err())
	assert.Equal(t, []string{"first", "second"}, proc.order())
	assert.True(t, clients[1].closed.Load())
}

func TestWSLogSource_Subscribe(t *testing.T) {
	_, err := NewWSLogSource(func(context.Context) (solana.WSClient, error) {
		return nil, errors.New("refused")
	}, "program").Subscribe(context.Background())
	assert.ErrorContains(t, err, "connect websocket")

	c := &fakeWSClient{ch: make(chan solana.LogNotification)}
	src := NewWSLogSource(func(context.Context) (solana.WSClient, error) { return c, nil }, "program")
	_, err = src.Subscribe(context.Background())
	require.NoError(t, err)
	_, err = src.Subscribe(context.Background())
	assert.Error(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, c.closed.Load())
}

type failingSource struct{}

func (failingSource) Subscribe(context.Context) (<-chan solana.LogNotification, error) {
	return nil, errors.New("dial refused")
}
func (failingSource) Close() error { return nil }

func TestService_SubscribeError(t *testing.T) {
	svc := newTestService(t, failingSource{}, &orderProcessor{}, ServiceOptions{})
	assert.ErrorContains(t, svc.Start(context.Background()), "dial refused")
	assert.NoError(t, svc.Stop(context.Background()))
}

func TestService_EndToEnd(t *testing.T) {
	const programID = "11111111111111111111111111111111"
	rpc := stub.NewRPCClient()
	store := memory.NewStateStore()
	cps := memory.NewCheckpointStore()

	m, err := materializer.New(materializer.Options{
		Store:     store,
		Resolver:  materializer.NewRPCResolver(rpc),
		ProgramID: programID,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	rpc.AddTransaction(&solana.Transaction{
		Signature: "create", Slot: 10, BlockTime: 1_700_000_000,
		Message: &solana.TransactionMessage{AccountKeys: []string{"creator"}},
	})
	rpc.AddTransaction(&solana.Transaction{
		Signature: "buy", Slot: 11, BlockTime: 1_700_000_001,
		Message: &solana.TransactionMessage{AccountKeys: []string{"trader", "config", "curve", "vault", "ata"}},
	})
	require.NoError(t, rpc.AddTokenAccount("ata", testMint))

	src := NewChannelSource(8)
	svc := newTestService(t, src, m, ServiceOptions{Parser: logparse.New(""), Checkpoints: cps})
	require.NoError(t, svc.Start(context.Background()))

	create := solana.LogNotification{Signature: "create", Slot: 10, Logs: []string{
		"Program log: Token created: Claw Coin (CLAW) at " + testMint,
	}}
	buy := solana.LogNotification{Signature: "buy", Slot: 11, Logs: []string{
		"Program log: Buy: 1000000000 lamports -> 31945788964182 tokens (fee: 10000000 lamports)",
	}}
	src.Push(create)
	src.Push(buy)
	src.Push(buy) // redelivery
	src.Push(solana.LogNotification{Signature: "migrate", Slot: 12, Logs: []string{
		"Program log: Token " + testMint + " migrated to DEX",
	}})

	require.Eventually(t, func() bool { return svc.Stats().Applied == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	curve, err := store.GetToken(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, "CLAW", curve.Symbol)
	assert.Equal(t, uint64(1), curve.TradeCount)
	assert.True(t, curve.Migrated)
	assert.Equal(t, domain.CurveMigrated, curve.State())

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalTrades)
	assert.Equal(t, uint64(1), stats.TotalMigrated)

	trades, err := store.ListTrades(context.Background(), storage.TradeQuery{Mint: testMint})
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	cp, err := cps.GetCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "migrate", cp.Signature)
	assert.Equal(t, int64(12), cp.Slot)
}
