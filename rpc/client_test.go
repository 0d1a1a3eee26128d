package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	client := NewClient()
	client.RetryDelay = time.Millisecond
	client.Timeout = time.Second
	return client
}

func TestCallReturnsResult(t *testing.T) {
	var gotAuth string
	var gotBody Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"result":742000,"error":null,"id":"bitcoin-telemetry"}`))
	}))
	defer server.Close()

	client := testClient()
	endpoint := Endpoint{URL: server.URL, User: "rpcuser", Pass: "rpcpass"}

	result, err := client.Call(context.Background(), endpoint, "getblockcount", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `742000`, string(result))

	// Basic auth and envelope shape
	assert.NotEmpty(t, gotAuth, "Request should carry basic auth")
	assert.Equal(t, "getblockcount", gotBody.Method)
	assert.Equal(t, "1.0", gotBody.JSONRPC)
	assert.NotNil(t, gotBody.Params, "Nil params should be sent as an empty array")
	assert.Empty(t, gotBody.Params)
}

func TestCallRemoteErrorIsNotRetried(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"result":null,"error":{"code":-32601,"message":"Method not found"},"id":"bitcoin-telemetry"}`))
	}))
	defer server.Close()

	client := testClient()
	endpoint := Endpoint{URL: server.URL, User: "u", Pass: "p"}

	_, err := client.Call(context.Background(), endpoint, "bogusmethod", nil)
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, "Method not found", rpcErr.Message)
	assert.Equal(t, `{"code":-32601,"message":"Method not found"}`, err.Error())

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "Remote errors must fail on the first attempt")
}

func TestCallRetriesTransportFailures(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := testClient()
	endpoint := Endpoint{URL: server.URL, User: "u", Pass: "p"}

	_, err := client.Call(context.Background(), endpoint, "getblockcount", nil)
	require.Error(t, err)
	assert.Equal(t, int32(DefaultAttempts), atomic.LoadInt32(&attempts), "Transport failures should exhaust every attempt")
}

func TestCallRecoversAfterTransientFailure(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":"00000abc","error":null,"id":"bitcoin-telemetry"}`))
	}))
	defer server.Close()

	client := testClient()
	endpoint := Endpoint{URL: server.URL, User: "u", Pass: "p"}

	result, err := client.Call(context.Background(), endpoint, "getbestblockhash", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"00000abc"`, string(result))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestCallTimeoutIsTransportFailure(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := testClient()
	client.Timeout = 20 * time.Millisecond
	client.Attempts = 2
	endpoint := Endpoint{URL: server.URL, User: "u", Pass: "p"}

	_, err := client.Call(context.Background(), endpoint, "getblockcount", nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "Timeouts should be retried like any transport failure")
}

func TestCallRejectsEmptyMethod(t *testing.T) {
	client := testClient()
	_, err := client.Call(context.Background(), Endpoint{URL: "http://localhost:0"}, "", nil)
	assert.Error(t, err)
}

func TestErrorSerialization(t *testing.T) {
	err := &Error{Code: -8, Message: "Block height out of range"}
	assert.Equal(t, `{"code":-8,"message":"Block height out of range"}`, err.Error())
}
