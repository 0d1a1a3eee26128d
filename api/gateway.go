package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitcoin-telemetry/logger"
)

// commandTimeout bounds a proxied RPC call issued by a subscriber.
const commandTimeout = 15 * time.Second

// allowedMethods is the fixed, case-sensitive set of read-only node queries
// subscribers may proxy. Everything else is rejected before any RPC is made.
var allowedMethods = map[string]struct{}{
	"getblock":          {},
	"getblockhash":      {},
	"getdifficulty":     {},
	"getnetworkhashps":  {},
	"getmempoolinfo":    {},
	"getpeerinfo":       {},
	"getblockchaininfo": {},
}

// handleCommand processes one inbound subscriber message. Failures are
// reported to that subscriber only and never take down the hub.
func (h *Hub) handleCommand(sub *subscriber, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"subscriber": sub.id,
				"panic":      r,
			}).Error("Recovered from panic while handling subscriber command")
			_ = sub.sendJSON(CommandError{Type: MsgError, Message: "Invalid request format."})
		}
	}()

	var req CommandRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Type != MsgRPCCall {
		log.WithField("subscriber", sub.id).Debug("Ignoring malformed subscriber message")
		_ = sub.sendJSON(CommandError{Type: MsgError, Message: "Invalid request format."})
		return
	}

	if req.Method == "" {
		_ = sub.sendJSON(CommandError{Type: MsgError, Message: "RPC method must be a non-empty string."})
		return
	}

	if _, ok := allowedMethods[req.Method]; !ok {
		log.WithFields(logger.Fields{
			"subscriber": sub.id,
			"method":     req.Method,
		}).Warn("Rejected disallowed RPC method from subscriber")
		_ = sub.sendJSON(CommandError{
			Type:    MsgError,
			Message: fmt.Sprintf("RPC method %q not allowed.", req.Method),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	// Server-held credentials only; nothing client-supplied reaches the node
	// beyond the method and its parameters.
	result, err := h.rpc.Dispatch(ctx, req.Method, req.Params...)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"subscriber": sub.id,
			"method":     req.Method,
		}).Warn("Proxied RPC call failed")
		_ = sub.sendJSON(CommandError{
			Type:    MsgError,
			Message: fmt.Sprintf("RPC call %s failed: %v", req.Method, err),
		})
		return
	}

	_ = sub.sendJSON(CommandResponse{Type: MsgRPCResponse, ID: req.ID, Result: result})
}
