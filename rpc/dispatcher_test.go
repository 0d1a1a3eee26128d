package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitcoin-telemetry/config"
)

func TestDispatchFailsFastWithoutConfig(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer server.Close()

	t.Setenv(config.EnvNodeURL, server.URL)
	t.Setenv(config.EnvRPCUser, "rpcuser")
	t.Setenv(config.EnvRPCPass, "")

	dispatcher := NewDispatcher(testClient())

	_, err := dispatcher.Dispatch(context.Background(), "getblockcount")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingConfig)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests), "No network call may happen with incomplete config")
}

func TestDispatchUsesEnvironmentPerCall(t *testing.T) {
	var gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, _ = r.BasicAuth()
		w.Write([]byte(`{"result":1,"error":null,"id":"bitcoin-telemetry"}`))
	}))
	defer server.Close()

	t.Setenv(config.EnvNodeURL, server.URL)
	t.Setenv(config.EnvRPCUser, "first-user")
	t.Setenv(config.EnvRPCPass, "secret")

	dispatcher := NewDispatcher(testClient())

	_, err := dispatcher.Dispatch(context.Background(), "getblockcount")
	require.NoError(t, err)
	assert.Equal(t, "first-user", gotUser)

	// Rotated credentials are picked up without constructing a new dispatcher.
	t.Setenv(config.EnvRPCUser, "second-user")
	_, err = dispatcher.Dispatch(context.Background(), "getblockcount")
	require.NoError(t, err)
	assert.Equal(t, "second-user", gotUser)
}
