package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bitcoin-telemetry/logger"
)

var log = logger.Logger

// Defaults applied by NewClient.
const (
	DefaultAttempts   = 3
	DefaultRetryDelay = time.Second
	DefaultTimeout    = 5 * time.Second
)

// Client sends JSON-RPC calls over HTTP with basic auth. Transport failures
// are retried with a fixed delay; remote RPC errors are surfaced immediately.
type Client struct {
	// Attempts is the total number of tries per call, including the first.
	Attempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// Timeout bounds each individual attempt.
	Timeout time.Duration

	httpClient *http.Client
}

// NewClient creates a client with the default retry policy.
func NewClient() *Client {
	return &Client{
		Attempts:   DefaultAttempts,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
}

// Call performs one JSON-RPC call against the endpoint. A nil params slice
// is sent as an empty array. On transport failure the call is retried up to
// c.Attempts times; a response carrying a non-null error field fails at once
// with the remote *Error.
func (c *Client) Call(ctx context.Context, endpoint Endpoint, method string, params []interface{}) (json.RawMessage, error) {
	if method == "" {
		return nil, fmt.Errorf("rpc method must not be empty")
	}
	if params == nil {
		params = []interface{}{}
	}

	body, err := json.Marshal(Request{
		JSONRPC: "1.0",
		ID:      "bitcoin-telemetry",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		result, err := c.post(ctx, endpoint, body)
		if err == nil {
			return result, nil
		}

		// Remote errors come back verbatim; only transport failures retry.
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}

		lastErr = err
		if attempt < c.Attempts {
			log.WithFields(logger.Fields{
				"method":  method,
				"attempt": attempt,
				"error":   err,
			}).Warn("RPC call failed, retrying")

			select {
			case <-time.After(c.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("rpc call %s aborted: %w", method, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("rpc call %s failed after %d attempts: %w", method, c.Attempts, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint Endpoint, body []byte) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(endpoint.User, endpoint.Pass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rpc response: %w", err)
	}

	// bitcoind reports RPC errors with non-2xx statuses but still sends a
	// valid envelope, so decode before checking the status code.
	var envelope Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rpc endpoint returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to decode rpc response: %w", err)
	}

	if envelope.Error != nil {
		return nil, envelope.Error
	}

	return envelope.Result, nil
}
