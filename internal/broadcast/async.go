package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/observability"
)

// ErrAsyncClosed is returned by PublishUpdate after Close.
var ErrAsyncClosed = errors.New("async publisher closed")

// AsyncOptions configures an Async publisher.
type AsyncOptions struct {
	// Name labels drop metrics and logs, e.g. "redis" or "kafka".
	Name string
	// QueueSize bounds the pending updates. Zero uses 1024.
	QueueSize int
	// SendTimeout bounds each delivery to the wrapped publisher. Zero uses 5s.
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Async decouples a slow publisher from the caller.
// PublishUpdate enqueues and returns; a full queue drops the update.
type Async struct {
	next    Publisher
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	queue   chan domain.Update
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

// NewAsync starts a worker delivering to next.
func NewAsync(next Publisher, opts AsyncOptions) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "async"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &Async{
		next:    next,
		name:    opts.Name,
		timeout: opts.SendTimeout,
		logger:  opts.Logger.With("component", "publisher", "sink", opts.Name),
		queue:   make(chan domain.Update, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// PublishUpdate enqueues u without blocking.
func (a *Async) PublishUpdate(_ context.Context, u domain.Update) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrAsyncClosed
	}
	select {
	case a.queue <- u:
	default:
		a.dropped.Add(1)
		observability.RecordUpdateDropped(a.name)
	}
	return nil
}

// Dropped returns how many updates were discarded on a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

func (a *Async) run() {
	defer close(a.done)
	for u := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.PublishUpdate(ctx, u)
		cancel()
		if err != nil {
			observability.RecordUpdateDropped(a.name)
			a.logger.Warn("publish failed", "type", u.UpdateType(), "topic", u.Topic(), "err", err)
		}
	}
}

// Close stops accepting updates and waits until the queue drains or ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Publisher = (*Async)(nil)
