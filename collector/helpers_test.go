package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// fakeCaller maps RPC methods to canned handlers and counts every call.
type fakeCaller struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(params []interface{}) (json.RawMessage, error)
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		calls:    make(map[string]int),
		handlers: make(map[string]func(params []interface{}) (json.RawMessage, error)),
	}
}

func (f *fakeCaller) respond(method string, payload string) {
	f.handlers[method] = func([]interface{}) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

func (f *fakeCaller) fail(method string, err error) {
	f.handlers[method] = func([]interface{}) (json.RawMessage, error) {
		return nil, err
	}
}

func (f *fakeCaller) Dispatch(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[method]++
	handler, ok := f.handlers[method]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unexpected RPC method %s", method)
	}
	return handler(params)
}

func (f *fakeCaller) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}
