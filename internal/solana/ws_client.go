package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"openclaw-indexer/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment is the confirmation level requested for logsSubscribe.
	Commitment string
	// BufferSize is the capacity of each subscription channel.
	BufferSize int
	// Logger receives connection lifecycle messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Commitment:        DefaultCommitment,
		BufferSize:        10000,
	}
}

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("websocket client closed")

// logSubscription is one logical subscription. Its server-side id changes on every reconnect.
type logSubscription struct {
	filter LogsFilter
	ch     chan LogNotification
}

type subscribeResult struct {
	id  int64
	err error
}

// WSClientImpl implements WSClient using gorilla/websocket.
// A single read loop owns the connection; on read failure it redials with
// exponential backoff and re-issues every active subscription.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	closed    atomic.Bool
	requestID atomic.Uint64

	mu      sync.Mutex
	subs    map[int64]*logSubscription      // keyed by current server subscription id
	pending map[uint64]chan subscribeResult // keyed by request id

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	def := DefaultWSConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.With("component", "solana-ws"),
		subs:     make(map[int64]*logSubscription),
		pending:  make(map[uint64]chan subscribeResult),
		done:     make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClientImpl) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

func (c *WSClientImpl) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.closed.Load() {
		c.connMu.Unlock()
		conn.Close()
		return
	}
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if old != nil && old != conn {
		old.Close()
	}
}

func (c *WSClientImpl) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// writeJSON serializes writes; gorilla allows one concurrent writer.
func (c *WSClientImpl) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// SubscribeLogs subscribes to program logs matching the filter.
// The returned channel survives reconnects and is closed by Close.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	id, err := c.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Buffered to absorb bursts; the reader blocks rather than drop.
	sub := &logSubscription{filter: filter, ch: make(chan LogNotification, c.config.BufferSize)}
	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()
	return sub.ch, nil
}

// subscribe sends logsSubscribe and waits for the server subscription id.
func (c *WSClientImpl) subscribe(ctx context.Context, filter LogsFilter) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	waitCh := make(chan subscribeResult, 1)
	c.mu.Lock()
	c.pending[reqID] = waitCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params:  []interface{}{filter.params(), map[string]string{"commitment": c.config.Commitment}},
	}); err != nil {
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case res := <-waitCh:
		return res.id, res.err
	case <-timer.C:
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f LogsFilter) params() interface{} {
	if len(f.Mentions) > 0 {
		return map[string]interface{}{"mentions": f.Mentions}
	}
	return "all"
}

// Close closes the WebSocket connection and every subscription channel.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// The read loop must exit before channels close so it never sends on one.
	c.wg.Wait()

	c.mu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	return nil
}

func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		conn := c.currentConn()
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("read failed, reconnecting", "err", err)
			if !c.reconnect() {
				return
			}
			continue
		}
		c.handleMessage(message)
	}
}

// reconnect redials until it succeeds or the client closes.
// Resubscription runs in its own goroutine because confirmations arrive through readLoop.
func (c *WSClientImpl) reconnect() bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectDelay
	b.MaxInterval = c.config.MaxReconnectDelay
	b.MaxElapsedTime = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
		defer dialCancel()
		var err error
		conn, err = c.dial(dialCtx)
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.logger.Warn("reconnect failed", "err", err, "retry_in", next)
	})
	if err != nil || c.closed.Load() {
		if conn != nil {
			conn.Close()
		}
		return false
	}

	c.setConn(conn)
	c.logger.Info("reconnected")
	observability.RecordWSReconnect()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
	}()
	return true
}

// resubscribeAll re-issues every active subscription on the current connection.
func (c *WSClientImpl) resubscribeAll() {
	c.mu.Lock()
	old := make(map[int64]*logSubscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.mu.Unlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newID, err := c.subscribe(ctx, sub.filter)
		cancel()
		if err != nil {
			// Keep the old mapping; the next reconnect retries.
			c.logger.Warn("resubscribe failed", "subscription", oldID, "err", err)
			continue
		}

		c.mu.Lock()
		delete(c.subs, oldID)
		c.subs[newID] = sub
		c.mu.Unlock()
	}
}

// handleMessage dispatches a frame to a pending subscribe call or a subscription channel.
func (c *WSClientImpl) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn("malformed frame", "err", err)
		return
	}

	switch {
	case env.Method == "logsNotification" && env.Params != nil:
		c.handleLogsNotification(env.Params)
	case env.ID != nil:
		res := subscribeResult{}
		if env.Error != nil {
			c.logger.Warn("error response", "code", env.Error.Code, "msg", env.Error.Message)
			res.err = env.Error
		} else if err := json.Unmarshal(env.Result, &res.id); err != nil {
			res.err = fmt.Errorf("decode subscription id: %w", err)
		}
		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- res:
			default:
			}
		}
	}
}

func (c *WSClientImpl) handleLogsNotification(params *wsNotificationParams) {
	notif := LogNotification{
		Signature: params.Result.Value.Signature,
		Logs:      params.Result.Value.Logs,
		Err:       params.Result.Value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	c.mu.Lock()
	sub, ok := c.subs[params.Subscription]
	c.mu.Unlock()
	if !ok {
		return
	}

	// Block until we can send - never drop events
	select {
	case sub.ch <- notif:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces in readLoop, which reconnects
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsEnvelope covers both responses (id set) and notifications (method set).
type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id"`
	Method  string                `json:"method"`
	Result  json.RawMessage       `json:"result"`
	Error   *RPCError             `json:"error"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}

var _ WSClient = (*WSClientImpl)(nil)
