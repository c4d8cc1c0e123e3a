// Package materializer applies parsed program events to the state store exactly once
// and derives the updates pushed to subscribers.
//
// Work is split in two phases. Resolve performs the chain lookups an event needs
// and may run ahead of, and concurrently with, other batches. Apply mutates state
// and must be called strictly in delivery order by a single goroutine.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"openclaw-indexer/internal/broadcast"
	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/observability"
	"openclaw-indexer/internal/pricing"
	"openclaw-indexer/internal/solana"
	"openclaw-indexer/internal/storage"
)

// TradeRecorder receives a copy of every applied trade. Failures are logged only.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade *domain.Trade, curve *domain.BondingCurve) error
}

// Options configures a Materializer.
type Options struct {
	Store     storage.StateStore
	Resolver  ChainResolver
	Config    *ConfigHolder
	ProgramID string

	// Publisher receives derived updates. Nil discards them.
	Publisher broadcast.Publisher
	// Recorder receives applied trades for charting. Optional.
	Recorder TradeRecorder

	// ResolveTimeout bounds each chain call. Default: 10s.
	ResolveTimeout time.Duration
	// MaxStoreRetries bounds retries of a failing store call. Default: 5.
	MaxStoreRetries int
	// RetryInitialInterval is the first backoff delay. Default: 100ms.
	RetryInitialInterval time.Duration
	// RetryMaxInterval caps the backoff delay. Default: 5s.
	RetryMaxInterval time.Duration

	// Now is the clock used when a transaction has no block time. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Materializer turns events into state transitions.
type Materializer struct {
	store     storage.StateStore
	resolver  ChainResolver
	config    *ConfigHolder
	programID string
	publisher broadcast.Publisher
	recorder  TradeRecorder

	resolveTimeout time.Duration
	maxRetries     int
	retryInitial   time.Duration
	retryMax       time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Materializer.
func New(opts Options) (*Materializer, error) {
	if opts.Store == nil {
		return nil, errors.New("materializer: store is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("materializer: resolver is required")
	}
	if opts.Config == nil {
		opts.Config = NewConfigHolder(domain.DefaultGlobalConfig())
	}
	if opts.Publisher == nil {
		opts.Publisher = broadcast.Discard{}
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 10 * time.Second
	}
	if opts.MaxStoreRetries <= 0 {
		opts.MaxStoreRetries = 5
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 100 * time.Millisecond
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Materializer{
		store:          opts.Store,
		resolver:       opts.Resolver,
		config:         opts.Config,
		programID:      opts.ProgramID,
		publisher:      opts.Publisher,
		recorder:       opts.Recorder,
		resolveTimeout: opts.ResolveTimeout,
		maxRetries:     opts.MaxStoreRetries,
		retryInitial:   opts.RetryInitialInterval,
		retryMax:       opts.RetryMaxInterval,
		now:            opts.Now,
		logger:         opts.Logger.With("component", "materializer"),
	}, nil
}

// Config returns the config holder shared with readers such as quote endpoints.
func (m *Materializer) Config() *ConfigHolder {
	return m.config
}

// Batch is the parsed events of one transaction, in log order.
type Batch struct {
	Signature string
	Slot      int64
	Events    []domain.Event
}

// Result is the outcome of one event.
// Err is nil when the event changed state; otherwise it names why it was skipped.
type Result struct {
	Event domain.Event
	Err   error
}

// Applied reports whether the event changed state.
func (r Result) Applied() bool { return r.Err == nil }

// Prepared is a batch with its chain context resolved.
type Prepared struct {
	Batch Batch
	// Results is filled by Apply, one entry per event.
	Results []Result

	items []prepared
}

type prepared struct {
	event domain.Event
	tx    *TxContext
	mint  string
	err   error // set when the event must be skipped without touching state
}

// Resolve fetches the chain context the events of b need.
// It never fails: an event whose context cannot be fetched is marked unresolved.
func (m *Materializer) Resolve(ctx context.Context, b Batch) *Prepared {
	start := time.Now()
	defer func() { observability.RecordResolveLatency(time.Since(start).Seconds()) }()

	p := &Prepared{Batch: b, items: make([]prepared, 0, len(b.Events))}

	var tx *TxContext
	var txErr error
	fetched := false
	txContext := func() (*TxContext, error) {
		if !fetched {
			fetched = true
			tx, txErr = m.resolveTransaction(ctx, b.Signature)
		}
		return tx, txErr
	}

	for _, ev := range b.Events {
		item := prepared{event: ev}
		switch e := ev.(type) {
		case domain.TokenCreated:
			item.mint = e.Mint
			if m.exists(ctx, m.store.TokenExists, e.Mint) {
				item.err = ErrDuplicateEvent
				break
			}
			item.tx, item.err = txContext()

		case domain.TradeExecuted:
			if m.exists(ctx, m.store.TradeExists, e.Signature()) {
				item.err = ErrDuplicateEvent
				break
			}
			if item.tx, item.err = txContext(); item.err != nil {
				break
			}
			item.mint, item.err = m.resolveTradeMint(ctx, item.tx)

		case domain.Migrated:
			item.mint = e.MintHint
		}
		p.items = append(p.items, item)
	}
	return p
}

// exists runs a duplicate pre-check. Store errors are ignored here;
// the atomic apply repeats the check.
func (m *Materializer) exists(ctx context.Context, check func(context.Context, string) (bool, error), key string) bool {
	ok, err := check(ctx, key)
	return err == nil && ok
}

func (m *Materializer) resolveTransaction(ctx context.Context, signature string) (*TxContext, error) {
	rctx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()
	tx, err := m.resolver.ResolveTransaction(rctx, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresolvedToken, err)
	}
	return tx, nil
}

func (m *Materializer) resolveTradeMint(ctx context.Context, tx *TxContext) (string, error) {
	account, err := tx.TraderTokenAccount()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnresolvedToken, err)
	}
	rctx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()
	mint, err := m.resolver.ResolveMintOfTokenAccount(rctx, account)
	if err != nil {
		return "", fmt.Errorf("%w: token account %s: %w", ErrUnresolvedToken, account, err)
	}
	return mint, nil
}

// Apply applies the events of p in order.
// Per-event failures are recorded in p.Results; only an exhausted store
// conflict or a cancelled context is returned.
func (m *Materializer) Apply(ctx context.Context, p *Prepared) error {
	p.Results = make([]Result, 0, len(p.items))
	for _, item := range p.items {
		start := time.Now()
		kind := string(item.event.Kind())

		err := item.err
		if err == nil {
			err = m.apply(ctx, p.Batch, item)
		}
		if err != nil && (errors.Is(err, ErrStateStoreConflict) || ctx.Err() != nil) {
			return err
		}

		p.Results = append(p.Results, Result{Event: item.event, Err: err})
		if err != nil {
			m.skipped(item, err)
			continue
		}
		observability.RecordEventApplied(kind, time.Since(start).Seconds())
	}
	return nil
}

// Process resolves and applies b.
func (m *Materializer) Process(ctx context.Context, b Batch) error {
	return m.Apply(ctx, m.Resolve(ctx, b))
}

func (m *Materializer) apply(ctx context.Context, b Batch, item prepared) error {
	switch e := item.event.(type) {
	case domain.TokenCreated:
		return m.applyCreated(ctx, e, item.tx)
	case domain.TradeExecuted:
		return m.applyTrade(ctx, b, e, item.tx, item.mint)
	case domain.Migrated:
		return m.applyMigrated(ctx, e)
	case domain.ConfigUpdated:
		return m.applyConfig(e)
	default:
		return fmt.Errorf("unsupported event kind %q", item.event.Kind())
	}
}

func (m *Materializer) applyCreated(ctx context.Context, e domain.TokenCreated, tx *TxContext) error {
	address, err := solana.BondingCurveAddress(e.Mint, m.programID)
	if err != nil {
		return fmt.Errorf("derive curve address: %w: %w", storage.ErrInvalidInput, err)
	}

	cfg := m.config.Load()
	ts := m.timestamp(tx)
	curve := domain.NewBondingCurve(e.Mint, address, tx.FeePayer, cfg)
	curve.Name = e.Name
	curve.Symbol = e.Symbol
	curve.CreationTx = e.Signature()
	curve.CreatedAt = ts
	curve.UpdatedAt = ts

	err = m.withRetry(ctx, "create_token", func() error {
		return m.store.CreateToken(ctx, curve)
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return err
	}

	m.logger.Info("token created", "mint", e.Mint, "symbol", e.Symbol, "creator", curve.Creator, "signature", e.Signature())
	m.publish(ctx, newTokenUpdate(curve, cfg))
	m.markApplied(ts)
	return nil
}

func (m *Materializer) applyTrade(ctx context.Context, b Batch, e domain.TradeExecuted, tx *TxContext, mint string) error {
	delta, err := domain.DeltaForTrade(e.Direction, e.SolAmount, e.TokenAmount, e.FeeAmount)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}
	if e.TokenAmount == 0 {
		return fmt.Errorf("zero token amount: %w", storage.ErrInvalidInput)
	}

	trade := &domain.Trade{
		Signature:   e.Signature(),
		Mint:        mint,
		Trader:      tx.FeePayer,
		Type:        e.Direction,
		SolAmount:   e.SolAmount,
		TokenAmount: e.TokenAmount,
		FeeAmount:   e.FeeAmount,
		Price:       pricing.TradePrice(e.SolAmount, e.TokenAmount),
		Slot:        b.Slot,
		Timestamp:   m.timestamp(tx),
	}

	var curve *domain.BondingCurve
	err = m.withRetry(ctx, "apply_trade", func() error {
		var applyErr error
		curve, applyErr = m.store.ApplyTrade(ctx, trade, delta)
		return applyErr
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		return ErrDuplicateEvent
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: no curve for mint %s", ErrUnresolvedToken, mint)
	case err != nil:
		return err
	}

	if m.recorder != nil {
		if err := m.recorder.RecordTrade(ctx, trade, curve); err != nil {
			m.logger.Warn("record trade tick failed", "signature", trade.Signature, "mint", mint, "err", err)
		}
	}

	cfg := m.config.Load()
	m.publish(ctx, tradeUpdate(trade))
	m.publish(ctx, priceUpdate(curve, cfg))
	m.markApplied(trade.Timestamp)
	return nil
}

func (m *Materializer) applyMigrated(ctx context.Context, e domain.Migrated) error {
	ts := m.now().UnixMilli()

	var curve *domain.BondingCurve
	err := m.withRetry(ctx, "mark_migrated", func() error {
		var migErr error
		curve, migErr = m.store.MarkMigrated(ctx, e.MintHint, e.Signature(), ts)
		return migErr
	})
	switch {
	case errors.Is(err, storage.ErrMigrated):
		return ErrDuplicateEvent
	case err != nil:
		return err
	}

	m.logger.Info("token migrated", "mint", e.MintHint, "signature", e.Signature(), "real_sol", curve.RealSolReserves)
	m.publish(ctx, domain.MigrationUpdate{
		Mint:      curve.Mint,
		Signature: e.Signature(),
		Timestamp: ts,
		RealSol:   curve.RealSolReserves,
	})
	m.markApplied(ts)
	return nil
}

func (m *Materializer) applyConfig(e domain.ConfigUpdated) error {
	current := m.config.Load()
	next := current.WithUpdate(e)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("config update: %w: %w", storage.ErrInvalidInput, err)
	}
	old := m.config.Swap(next)
	m.logger.Warn("global config updated",
		"signature", e.Signature(),
		"old_fee_bps", old.FeeBps, "new_fee_bps", next.FeeBps,
		"old_threshold", old.MigrationThresholdLamports, "new_threshold", next.MigrationThresholdLamports)
	return nil
}

// withRetry retries transient store failures with exponential backoff.
// Domain errors are returned as is; exhausted retries wrap ErrStateStoreConflict.
func (m *Materializer) withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryInitial
	b.MaxInterval = m.retryMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.maxRetries)), ctx)

	attempt := func() error {
		err := fn()
		if err == nil || isDomainError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordStoreRetry()
		m.logger.Warn("state store call failed, retrying", "op", op, "wait", wait, "err", err)
	}

	err := backoff.RetryNotify(attempt, policy, notify)
	if err == nil || isDomainError(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStateStoreConflict, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, storage.ErrDuplicateKey) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrMigrated) ||
		errors.Is(err, storage.ErrInvalidInput)
}

func (m *Materializer) timestamp(tx *TxContext) int64 {
	if tx != nil && tx.BlockTime > 0 {
		return tx.BlockTime * 1000
	}
	return m.now().UnixMilli()
}

func (m *Materializer) publish(ctx context.Context, u domain.Update) {
	if err := m.publisher.PublishUpdate(ctx, u); err != nil {
		m.logger.Warn("publish update failed", "type", u.UpdateType(), "topic", u.Topic(), "err", err)
		return
	}
	observability.RecordUpdatePublished(u.UpdateType())
}

func (m *Materializer) markApplied(tsMillis int64) {
	observability.RecordApplied(tsMillis / 1000)
}

func (m *Materializer) skipped(item prepared, err error) {
	kind := string(item.event.Kind())
	reason := skipReason(err)
	observability.RecordEventSkipped(kind, reason)

	attrs := []any{"kind", kind, "signature", item.event.Signature(), "reason", reason}
	if item.mint != "" {
		attrs = append(attrs, "mint", item.mint)
	}
	switch reason {
	case "duplicate":
		m.logger.Debug("event skipped", attrs...)
	default:
		m.logger.Warn("event skipped", append(attrs, "err", err)...)
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		return "duplicate"
	case errors.Is(err, ErrUnresolvedToken):
		return "unresolved"
	case errors.Is(err, storage.ErrMigrated):
		return "migrated"
	case errors.Is(err, storage.ErrNotFound):
		return "unknown_token"
	case errors.Is(err, storage.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
