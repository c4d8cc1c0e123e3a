// Package ingestion drives the live pipeline: it reads program logs, parses them,
// resolves chain context ahead of time and applies batches one at a time in
// delivery order.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"openclaw-indexer/internal/logparse"
	"openclaw-indexer/internal/materializer"
	"openclaw-indexer/internal/observability"
	"openclaw-indexer/internal/solana"
	"openclaw-indexer/internal/storage"
)

// Processor is the two-phase event applier; *materializer.Materializer implements it.
type Processor interface {
	Resolve(ctx context.Context, b materializer.Batch) *materializer.Prepared
	Apply(ctx context.Context, p *materializer.Prepared) error
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Source    LogSource
	Parser    *logparse.Parser
	Processor Processor

	// Checkpoints records the last applied transaction. Optional.
	Checkpoints storage.CheckpointStore
	// CheckpointInterval throttles checkpoint writes. Default: 5s.
	CheckpointInterval time.Duration

	// ResolveConcurrency bounds concurrent chain lookups. Default: 4.
	ResolveConcurrency int
	// Lookahead bounds the batches waiting to be applied. Default: 64.
	Lookahead int

	Now    func() time.Time
	Logger *slog.Logger
}

// Stats counts what the service has seen since Start.
type Stats struct {
	Received   uint64 // notifications from the source
	Failed     uint64 // failed transactions, never parsed
	Mismatches uint64 // malformed lines
	Batches    uint64 // transactions with at least one event
	Applied    uint64 // batches applied
}

type job struct {
	batch  materializer.Batch
	result chan *materializer.Prepared
}

// Service is the single ingestion worker.
type Service struct {
	source    LogSource
	parser    *logparse.Parser
	proc      Processor
	cps       storage.CheckpointStore
	cpEvery   time.Duration
	sem       *semaphore.Weighted
	lookahead int
	now       func() time.Time
	logger    *slog.Logger

	mu          sync.Mutex
	running     bool
	queue       chan *job
	stopReading context.CancelFunc
	abort       context.CancelFunc
	done        chan struct{}
	err         error

	lastCheckpoint time.Time
	pendingCP      *storage.Checkpoint

	received   atomic.Uint64
	failed     atomic.Uint64
	mismatches atomic.Uint64
	batches    atomic.Uint64
	applied    atomic.Uint64
}

// NewService creates a stopped Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Source == nil {
		return nil, errors.New("ingestion: source is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("ingestion: processor is required")
	}
	if opts.Parser == nil {
		opts.Parser = logparse.New("")
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 5 * time.Second
	}
	if opts.ResolveConcurrency <= 0 {
		opts.ResolveConcurrency = 4
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		source:    opts.Source,
		parser:    opts.Parser,
		proc:      opts.Processor,
		cps:       opts.Checkpoints,
		cpEvery:   opts.CheckpointInterval,
		sem:       semaphore.NewWeighted(int64(opts.ResolveConcurrency)),
		lookahead: opts.Lookahead,
		now:       opts.Now,
		logger:    opts.Logger.With("component", "ingestion"),
		done:      closedChan(),
	}, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start subscribes to the source and begins processing in the background.
// Cancelling ctx has the same effect as Stop without a deadline.
// A stopped Service can be started again; it resumes from "now" and its
// counters keep accumulating.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("ingestion: already started")
	}

	s.logResumePoint(ctx)

	notifications, err := s.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	s.running = true
	s.err = nil
	s.lastCheckpoint = time.Time{}
	s.pendingCP = nil
	done := make(chan struct{})
	s.done = done

	readCtx, stopReading := context.WithCancel(ctx)
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	s.stopReading = stopReading
	s.abort = abort
	s.queue = make(chan *job, s.lookahead)

	var g errgroup.Group
	g.Go(func() error {
		return s.read(readCtx, runCtx, notifications)
	})
	g.Go(func() error {
		err := s.applyLoop(runCtx)
		if err != nil {
			stopReading()
			abort()
		}
		return err
	})

	go func() {
		err := g.Wait()
		stopReading()
		abort()

		if err != nil {
			s.logger.Error("ingestion stopped", "err", err)
		} else {
			s.logger.Info("ingestion stopped", "applied", s.applied.Load())
		}
		s.mu.Lock()
		s.err = err
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("ingestion started", "lookahead", s.lookahead)
	return nil
}

func (s *Service) logResumePoint(ctx context.Context) {
	if s.cps == nil {
		return
	}
	cp, err := s.cps.GetCheckpoint(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no previous checkpoint")
	case err != nil:
		s.logger.Warn("read checkpoint failed", "err", err)
	default:
		// The stream has no replay; anything after the checkpoint that was missed
		// while down stays missed.
		s.logger.Info("previous checkpoint", "slot", cp.Slot, "signature", cp.Signature, "updated_at", cp.UpdatedAt)
	}
}

// Stop stops accepting deliveries, drains queued batches and releases the subscription.
// If ctx ends first, in-flight work is abandoned and ctx.Err() is returned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	running, done := s.running, s.done
	stopReading, abort := s.stopReading, s.abort
	s.mu.Unlock()
	if !running {
		return nil
	}

	stopReading()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		abort()
		<-done
		return ctx.Err()
	}
}

// Done is closed once the current run has fully stopped.
// Before the first Start it is already closed.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that stopped the service, or nil.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Received:   s.received.Load(),
		Failed:     s.failed.Load(),
		Mismatches: s.mismatches.Load(),
		Batches:    s.batches.Load(),
		Applied:    s.applied.Load(),
	}
}

// read parses notifications and queues a job per transaction with events.
// It owns the queue and closes it, and the source, when reading ends.
func (s *Service) read(ctx, runCtx context.Context, in <-chan solana.LogNotification) error {
	defer func() {
		close(s.queue)
		if err := s.source.Close(); err != nil {
			s.logger.Warn("close log source", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-in:
			if !ok {
				return ErrSourceClosed
			}
			j := s.parse(n)
			if j == nil {
				continue
			}
			select {
			case s.queue <- j:
			case <-ctx.Done():
				return nil
			}
			observability.SetPendingBatches(len(s.queue))
			go s.resolve(runCtx, j)
		}
	}
}

func (s *Service) parse(n solana.LogNotification) *job {
	s.received.Add(1)
	observability.RecordTransactionReceived(n.Slot)

	if n.Failed() {
		s.failed.Add(1)
		return nil
	}

	events, errs := s.parser.ParseTransaction(logparse.Transaction{
		Signature: n.Signature,
		Slot:      n.Slot,
		Failed:    n.Failed(),
		Logs:      n.Logs,
	})
	for _, err := range errs {
		s.mismatches.Add(1)
		observability.RecordParseMismatch()
		s.logger.Warn("malformed log line", "signature", n.Signature, "err", err)
	}
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		observability.RecordEventParsed(string(ev.Kind()))
	}

	s.batches.Add(1)
	return &job{
		batch:  materializer.Batch{Signature: n.Signature, Slot: n.Slot, Events: events},
		result: make(chan *materializer.Prepared, 1),
	}
}

func (s *Service) resolve(ctx context.Context, j *job) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		j.result <- nil
		return
	}
	defer s.sem.Release(1)
	j.result <- s.proc.Resolve(ctx, j.batch)
}

// applyLoop applies jobs strictly in queue order.
func (s *Service) applyLoop(ctx context.Context) error {
	defer s.flushCheckpoint(context.WithoutCancel(ctx))

	for j := range s.queue {
		var p *materializer.Prepared
		select {
		case p = <-j.result:
		case <-ctx.Done():
			return ctx.Err()
		}
		if p == nil {
			return ctx.Err()
		}

		if err := s.proc.Apply(ctx, p); err != nil {
			return fmt.Errorf("apply %s: %w", j.batch.Signature, err)
		}
		s.applied.Add(1)
		observability.SetPendingBatches(len(s.queue))
		s.checkpoint(ctx, j.batch)
	}
	return nil
}

func (s *Service) checkpoint(ctx context.Context, b materializer.Batch) {
	if s.cps == nil {
		return
	}
	now := s.now()
	s.pendingCP = &storage.Checkpoint{Slot: b.Slot, Signature: b.Signature, UpdatedAt: now.UnixMilli()}
	if now.Sub(s.lastCheckpoint) < s.cpEvery {
		return
	}
	s.flushCheckpoint(ctx)
}

func (s *Service) flushCheckpoint(ctx context.Context) {
	if s.cps == nil || s.pendingCP == nil {
		return
	}
	if err := s.cps.SetCheckpoint(ctx, s.pendingCP); err != nil {
		s.logger.Warn("save checkpoint failed", "signature", s.pendingCP.Signature, "err", err)
		return
	}
	s.lastCheckpoint = s.now()
	s.pendingCP = nil
}
