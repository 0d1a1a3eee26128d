package rpc

import "encoding/json"

// Request is the JSON-RPC envelope sent to the node.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// Response is the envelope returned by the node. Exactly one of Result and
// Error is meaningful.
type Response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     string          `json:"id"`
}

// Error is a remote JSON-RPC error. It is returned as-is, never retried.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error renders the remote error as its serialized {code, message} form so
// subscribers and logs see exactly what the node reported.
func (e *Error) Error() string {
	data, err := json.Marshal(e)
	if err != nil {
		return e.Message
	}
	return string(data)
}

// Endpoint identifies a node RPC endpoint with its basic-auth credentials.
type Endpoint struct {
	URL  string
	User string
	Pass string
}
