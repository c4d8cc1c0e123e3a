package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/observability"
	"openclaw-indexer/internal/solana"
)

// Client frame types.
const (
	FrameSubscribeToken     = "subscribe:token"
	FrameUnsubscribeToken   = "unsubscribe:token"
	FrameSubscribeNewTokens = "subscribe:newTokens"
	FrameUnsubscribeNew     = "unsubscribe:newTokens"
	frameError              = "error"
)

// ClientFrame is a control message sent by a WebSocket client.
type ClientFrame struct {
	Type string `json:"type"`
	Mint string `json:"mint,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// WSServerOptions configures the push endpoint.
type WSServerOptions struct {
	// SendBuffer is the per-connection outbound queue. Zero uses 256.
	SendBuffer   int
	WriteTimeout time.Duration
	// PongTimeout is how long a connection may stay silent before it is dropped.
	PongTimeout  time.Duration
	PingInterval time.Duration
	// CheckOrigin overrides the upgrader origin check. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// WSServer pushes broadcast topics to WebSocket clients.
type WSServer struct {
	source   Broadcaster
	opts     WSServerOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	wg      sync.WaitGroup
}

// NewWSServer creates a push server reading from source.
func NewWSServer(source Broadcaster, opts WSServerOptions) *WSServer {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongTimeout {
		opts.PingInterval = opts.PongTimeout * 9 / 10
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WSServer{
		source: source,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger:  opts.Logger.With("component", "ws-server"),
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "err", err)
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan []byte, s.opts.SendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]*Subscription),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	observability.AddWSClients(1)

	s.wg.Add(1)
	go c.writeLoop()
	c.readLoop()
}

// Clients returns the number of connected clients.
func (s *WSServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and waits for their writers to exit.
func (s *WSServer) Close() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	s.wg.Wait()
}

func (s *WSServer) remove(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	observability.AddWSClients(-1)
}

type wsClient struct {
	server *WSServer
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	mu   sync.Mutex
	subs map[string]*Subscription
}

func (c *wsClient) readLoop() {
	defer func() {
		close(c.done)
		c.unsubscribeAll()
		_ = c.conn.Close()
		c.server.remove(c)
	}()

	timeout := c.server.opts.PongTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("client read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		if err := c.handleFrame(message); err != nil {
			c.sendError(err)
		}
	}
}

func (c *wsClient) handleFrame(message []byte) error {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}

	switch frame.Type {
	case FrameSubscribeToken, FrameUnsubscribeToken:
		if _, err := solana.DecodePublicKey(frame.Mint); err != nil {
			return fmt.Errorf("invalid mint %q", frame.Mint)
		}
		topic := domain.TokenTopic(frame.Mint)
		if frame.Type == FrameSubscribeToken {
			c.subscribe(topic)
		} else {
			c.unsubscribe(topic)
		}
	case FrameSubscribeNewTokens:
		c.subscribe(domain.TopicNewTokens)
	case FrameUnsubscribeNew:
		c.unsubscribe(domain.TopicNewTokens)
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

func (c *wsClient) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; ok {
		return
	}
	sub := c.server.source.Subscribe(topic)
	c.subs[topic] = sub
	go c.forward(sub)
}

func (c *wsClient) unsubscribe(topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		c.server.source.Unsubscribe(sub)
	}
}

func (c *wsClient) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		c.server.source.Unsubscribe(sub)
	}
}

// forward copies a subscription into the connection queue until the subscription closes.
func (c *wsClient) forward(sub *Subscription) {
	for payload := range sub.C() {
		c.enqueue(payload)
	}
}

func (c *wsClient) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		observability.RecordUpdateDropped("ws")
	}
}

func (c *wsClient) sendError(err error) {
	payload, mErr := json.Marshal(errorFrame{Type: frameError, Error: err.Error()})
	if mErr != nil {
		return
	}
	c.enqueue(payload)
}

// writeLoop is the only goroutine writing to the connection.
func (c *wsClient) writeLoop() {
	defer c.server.wg.Done()

	ticker := time.NewTicker(c.server.opts.PingInterval)
	defer ticker.Stop()
	timeout := c.server.opts.WriteTimeout

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
