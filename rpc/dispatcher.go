package rpc

import (
	"context"
	"encoding/json"

	"bitcoin-telemetry/config"
)

// Caller dispatches a single allowed RPC method against the configured node.
// Collectors and the command gateway depend on this rather than on the
// concrete client so tests can substitute fakes.
type Caller interface {
	Dispatch(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

// Dispatcher routes calls through the shared Client, resolving endpoint and
// credentials from the environment on every call. Credential or endpoint
// rotation therefore takes effect without a restart.
type Dispatcher struct {
	client *Client
}

var _ Caller = (*Dispatcher)(nil)

// NewDispatcher wraps client with environment-backed credentials.
func NewDispatcher(client *Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch validates configuration and performs the call. When any of the
// endpoint URL, user, or password is missing it fails fast without touching
// the network.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	cfg, err := config.NodeRPCFromEnv()
	if err != nil {
		return nil, err
	}

	endpoint := Endpoint{URL: cfg.URL, User: cfg.User, Pass: cfg.Pass}
	return d.client.Call(ctx, endpoint, method, params)
}
