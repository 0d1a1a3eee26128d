package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitcoin-telemetry/collector"
)

// fakeCaller answers proxied RPC calls with canned results.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []string
	results map[string]json.RawMessage
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{results: make(map[string]json.RawMessage)}
}

func (f *fakeCaller) Dispatch(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if result, ok := f.results[method]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("no canned result for %s", method)
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestConnectionAcknowledgement(t *testing.T) {
	hub := NewHub(newFakeCaller())
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	msg := readMessage(t, conn)
	assert.Equal(t, MsgConnection, msg["type"])
}

func TestGatewayRejectsDisallowedMethod(t *testing.T) {
	fake := newFakeCaller()
	hub := NewHub(fake)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readMessage(t, conn) // connection ack

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"rpc_call","id":1,"method":"shutdown","params":[]}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg["type"])
	assert.Equal(t, `RPC method "shutdown" not allowed.`, msg["message"])
	assert.Zero(t, fake.callCount(), "Disallowed methods must never reach the node")
}

func TestGatewayRejectsEmptyMethod(t *testing.T) {
	fake := newFakeCaller()
	hub := NewHub(fake)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"rpc_call","id":2,"params":[]}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg["type"])
	assert.Equal(t, "RPC method must be a non-empty string.", msg["message"])
	assert.Zero(t, fake.callCount())
}

func TestGatewayDispatchesAllowedMethod(t *testing.T) {
	fake := newFakeCaller()
	fake.results["getdifficulty"] = json.RawMessage(`29570168636357.31`)

	hub := NewHub(fake)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"rpc_call","id":7,"method":"getdifficulty","params":[]}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MsgRPCResponse, msg["type"])
	assert.Equal(t, float64(7), msg["id"], "Reply must carry the client-supplied id")
	assert.InDelta(t, 29570168636357.31, msg["result"], 1)
	assert.Equal(t, 1, fake.callCount())
}

func TestGatewayMalformedJSON(t *testing.T) {
	hub := NewHub(newFakeCaller())
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`this is not json`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg["type"])
	assert.Equal(t, "Invalid request format.", msg["message"])

	// Connection survives the malformed message
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"rpc_call","id":3,"method":"shutdown"}`)))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgError, msg["type"])
}

func TestGatewayFailedCallRepliesWithError(t *testing.T) {
	fake := newFakeCaller() // no canned results, every dispatch fails

	hub := NewHub(fake)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"rpc_call","id":4,"method":"getpeerinfo","params":[]}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg["type"])
	assert.Contains(t, msg["message"], "getpeerinfo")
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(newFakeCaller())

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	// Acks confirm both registrations completed before broadcasting
	readMessage(t, first)
	readMessage(t, second)

	hub.PublishHashrate(&collector.HashrateSnapshot{HashrateEH: 650})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, MsgHashrateData, msg["type"])
		data := msg["data"].(map[string]interface{})
		assert.InDelta(t, 650.0, data["hashrate"], 1e-9)
	}
}

func TestLateJoinerReceivesReplay(t *testing.T) {
	hub := NewHub(newFakeCaller())

	// A block is broadcast before anyone is connected
	hub.PublishBlock(&collector.BlockUpdate{
		Summary: collector.BitcoinUpdate{Height: 742000},
		Block:   &collector.BlockSnapshot{Height: 742000, Hash: "0000abc"},
		Stats:   &collector.TxStats{TxCount: 1200},
	})

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	msg := readMessage(t, conn)
	assert.Equal(t, MsgConnection, msg["type"])

	msg = readMessage(t, conn)
	assert.Equal(t, MsgBlockData, msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, float64(742000), data["height"])

	msg = readMessage(t, conn)
	assert.Equal(t, MsgTransactionStats, msg["type"])
	data = msg["data"].(map[string]interface{})
	assert.Equal(t, float64(1200), data["txCount"])
}

func TestBlockErrorBroadcast(t *testing.T) {
	hub := NewHub(newFakeCaller())
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	readMessage(t, conn)

	hub.PublishBlockError("Unable to determine current block state")

	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "Unable to determine current block state", data["message"])
}

func TestSubscriberCountTracksConnections(t *testing.T) {
	hub := NewHub(newFakeCaller())
	assert.Zero(t, hub.SubscriberCount())

	conn, cleanup := dialHub(t, hub)
	readMessage(t, conn)
	assert.Equal(t, 1, hub.SubscriberCount())

	cleanup()
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "Disconnect should deregister the subscriber")
}
