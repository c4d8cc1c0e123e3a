package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscribeCall struct {
	subID      int64
	commitment string
}

// fakeNode is a minimal logsSubscribe server.
type fakeNode struct {
	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	conn    *websocket.Conn
	nextSub int64
	reject  bool

	calls chan subscribeCall
}

func newFakeNode(t *testing.T) *fakeNode {
	n := &fakeNode{t: t, calls: make(chan subscribeCall, 16)}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.t.Errorf("upgrade: %v", err)
		return
	}
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(msg, &req); err != nil || req.Method != "logsSubscribe" {
			continue
		}
		var opts map[string]string
		if len(req.Params) > 1 {
			json.Unmarshal(req.Params[1], &opts)
		}

		n.mu.Lock()
		var resp interface{}
		if n.reject {
			resp = map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "error": map[string]interface{}{"code": -32602, "message": "Invalid params"}}
		} else {
			n.nextSub++
			resp = map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": n.nextSub}
			n.calls <- subscribeCall{subID: n.nextSub, commitment: opts["commitment"]}
		}
		conn.WriteJSON(resp)
		n.mu.Unlock()
	}
}

func (n *fakeNode) notify(subID int64, signature string, slot int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	notif := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"signature": signature,
					"logs":      []string{"Program log: Test"},
					"err":       nil,
				},
			},
		},
	}
	require.NoError(n.t, n.conn.WriteJSON(notif))
}

func (n *fakeNode) drop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conn.Close()
}

func (n *fakeNode) waitSubscribe(t *testing.T) subscribeCall {
	t.Helper()
	select {
	case c := <-n.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for logsSubscribe")
		return subscribeCall{}
	}
}

func testWSConfig() *WSClientConfig {
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.SubscribeTimeout = 2 * time.Second
	cfg.Commitment = "processed"
	return &cfg
}

func receive(t *testing.T, ch <-chan LogNotification) LogNotification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
		return LogNotification{}
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	node := newFakeNode(t)
	ctx := context.Background()

	client, err := NewWSClient(ctx, node.url(), testWSConfig())
	require.NoError(t, err)
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"testprogram"}})
	require.NoError(t, err)

	call := node.waitSubscribe(t)
	assert.Equal(t, "processed", call.commitment)

	node.notify(call.subID, "testsig", 100)
	notif := receive(t, ch)
	assert.Equal(t, "testsig", notif.Signature)
	assert.Equal(t, int64(100), notif.Slot)
	assert.Len(t, notif.Logs, 1)
	assert.False(t, notif.Failed())
}

func TestWSClient_SubscribeRejected(t *testing.T) {
	node := newFakeNode(t)
	node.mu.Lock()
	node.reject = true
	node.mu.Unlock()

	client, err := NewWSClient(context.Background(), node.url(), testWSConfig())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SubscribeLogs(context.Background(), LogsFilter{})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	node := newFakeNode(t)
	ctx := context.Background()

	client, err := NewWSClient(ctx, node.url(), testWSConfig())
	require.NoError(t, err)
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"testprogram"}})
	require.NoError(t, err)
	first := node.waitSubscribe(t)

	node.drop()

	second := node.waitSubscribe(t)
	assert.NotEqual(t, first.subID, second.subID)

	// give the client a moment to swap the subscription id
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		_, ok := client.subs[second.subID]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	node.notify(second.subID, "after-reconnect", 7)
	assert.Equal(t, "after-reconnect", receive(t, ch).Signature)
}

func TestWSClient_CloseClosesChannels(t *testing.T) {
	node := newFakeNode(t)
	ctx := context.Background()

	client, err := NewWSClient(ctx, node.url(), testWSConfig())
	require.NoError(t, err)

	ch, err := client.SubscribeLogs(ctx, LogsFilter{})
	require.NoError(t, err)
	node.waitSubscribe(t)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "second close is a no-op")

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	_, err = client.SubscribeLogs(ctx, LogsFilter{})
	assert.ErrorIs(t, err, ErrClientClosed)
}
