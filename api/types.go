package api

import "encoding/json"

// Broadcast message types pushed to subscribers.
const (
	MsgBitcoinUpdate    = "bitcoin_update"
	MsgBlockData        = "block_data"
	MsgTransactionStats = "transaction_stats"
	MsgHashrateData     = "hashrate_data"
	MsgLatencyData      = "latency_data"
	MsgRewardsData      = "rewards_data"
	MsgNodeHealthData   = "node_health_data"
	MsgError            = "error"
	MsgConnection       = "connection"
)

// Inbound and reply message types for proxied RPC calls.
const (
	MsgRPCCall     = "rpc_call"
	MsgRPCResponse = "rpc_response"
)

// Message is the envelope for every server-to-subscriber broadcast.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// CommandRequest is a subscriber-issued proxied RPC call.
type CommandRequest struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
}

// CommandResponse returns an allowed call's result to its requester, tagged
// with the client-supplied id for correlation.
type CommandResponse struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	Result json.RawMessage `json:"result"`
}

// CommandError rejects an inbound command. The connection stays open.
type CommandError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
