package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"openclaw-indexer/internal/solana"
)

// ErrSourceClosed is returned when the log stream ends without Stop.
var ErrSourceClosed = errors.New("log source closed")

// LogSource delivers raw transaction logs of the program, live from "now".
// Deliveries may repeat or arrive out of order across reconnects.
type LogSource interface {
	Subscribe(ctx context.Context) (<-chan solana.LogNotification, error)
	Close() error
}

// DialFunc opens a WebSocket client.
type DialFunc func(ctx context.Context) (solana.WSClient, error)

// WSLogSource subscribes to program logs over the Solana WebSocket API.
// Every Subscribe dials a fresh client, so the source can be reused after Close.
type WSLogSource struct {
	dial      DialFunc
	programID string

	mu     sync.Mutex
	client solana.WSClient
}

// NewWSLogSource creates a source for the logs mentioning programID.
func NewWSLogSource(dial DialFunc, programID string) *WSLogSource {
	return &WSLogSource{dial: dial, programID: programID}
}

// Subscribe connects and starts the logsSubscribe stream.
func (s *WSLogSource) Subscribe(ctx context.Context) (<-chan solana.LogNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil, errors.New("log source already subscribed")
	}

	client, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}
	ch, err := client.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{s.programID}})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.client = client
	return ch, nil
}

// Close releases the subscription and the connection.
func (s *WSLogSource) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// ChannelSource adapts a plain channel, for replays and tests.
type ChannelSource struct {
	ch     chan solana.LogNotification
	closed chan struct{}
}

// NewChannelSource creates a source with a buffer of size.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{ch: make(chan solana.LogNotification, size), closed: make(chan struct{})}
}

// Push delivers n. It blocks while the buffer is full and drops n after Close.
func (s *ChannelSource) Push(n solana.LogNotification) {
	select {
	case s.ch <- n:
	case <-s.closed:
	}
}

// End closes the stream as a disconnected node would.
func (s *ChannelSource) End() {
	close(s.ch)
}

// Subscribe returns the stream.
func (s *ChannelSource) Subscribe(context.Context) (<-chan solana.LogNotification, error) {
	return s.ch, nil
}

// Close marks the source released. Safe to call more than once.
func (s *ChannelSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *ChannelSource) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
