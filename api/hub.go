package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bitcoin-telemetry/collector"
	"bitcoin-telemetry/logger"
	"bitcoin-telemetry/rpc"
)

var log = logger.Logger

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one open connection. Writes are serialized through mu since
// broadcasts and gateway replies originate on different goroutines.
type subscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *subscriber) sendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send(payload)
}

// Hub owns the subscriber set and fans collector output out to every open
// connection. It also retains the most recent block and transaction-stats
// messages so late joiners see current state immediately.
type Hub struct {
	rpc rpc.Caller

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	replayMu  sync.RWMutex
	lastBlock []byte
	lastStats []byte
}

var _ collector.Sink = (*Hub)(nil)

// NewHub creates an empty hub. caller serves the inbound command gateway
// with server-held credentials.
func NewHub(caller rpc.Caller) *Hub {
	return &Hub{
		rpc:         caller,
		subscribers: make(map[string]*subscriber),
	}
}

// HandleWS upgrades the request, registers the subscriber, and services its
// inbound messages until disconnect.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade WebSocket connection")
		return
	}

	sub := &subscriber{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	log.WithFields(logger.Fields{
		"subscriber": sub.id,
		"remoteAddr": r.RemoteAddr,
		"total":      count,
	}).Info("Subscriber connected")

	if err := sub.sendJSON(Message{Type: MsgConnection, Data: map[string]string{"message": "Connected to telemetry service"}}); err != nil {
		h.remove(sub)
		return
	}
	h.replay(sub)

	defer h.remove(sub)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleCommand(sub, raw)
	}
}

// replay sends the last known block and transaction-stats messages, if any,
// so a late joiner does not wait for the next cycle.
func (h *Hub) replay(sub *subscriber) {
	h.replayMu.RLock()
	lastBlock, lastStats := h.lastBlock, h.lastStats
	h.replayMu.RUnlock()

	if lastBlock != nil {
		if err := sub.send(lastBlock); err != nil {
			return
		}
	}
	if lastStats != nil {
		_ = sub.send(lastStats)
	}
}

func (h *Hub) remove(sub *subscriber) {
	sub.conn.Close()

	h.mu.Lock()
	if _, ok := h.subscribers[sub.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, sub.id)
	count := len(h.subscribers)
	h.mu.Unlock()

	log.WithFields(logger.Fields{
		"subscriber": sub.id,
		"total":      count,
	}).Info("Subscriber disconnected")
}

// broadcast serializes once and writes to every subscriber. A failed write
// closes and removes only that subscriber.
func (h *Hub) broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		log.WithError(err).WithField("type", msgType).Error("Failed to marshal broadcast message")
		return
	}

	switch msgType {
	case MsgBlockData:
		h.replayMu.Lock()
		h.lastBlock = payload
		h.replayMu.Unlock()
	case MsgTransactionStats:
		h.replayMu.Lock()
		h.lastStats = payload
		h.replayMu.Unlock()
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.send(payload); err != nil {
			log.WithError(err).WithField("subscriber", sub.id).Warn("Dropping subscriber after failed write")
			h.remove(sub)
		}
	}
}

// SubscriberCount reports the number of open connections.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, sub := range h.subscribers {
		sub.conn.Close()
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
}

// PublishBlock implements collector.Sink.
func (h *Hub) PublishBlock(update *collector.BlockUpdate) {
	h.broadcast(MsgBitcoinUpdate, update.Summary)
	h.broadcast(MsgBlockData, update.Block)
	h.broadcast(MsgTransactionStats, update.Stats)
}

// PublishBlockError implements collector.Sink. Block fetch failure is the
// one cycle failure subscribers are told about, so dashboards can tell "no
// new block" apart from "state unknown".
func (h *Hub) PublishBlockError(message string) {
	h.broadcast(MsgError, map[string]string{"message": message})
}

// PublishHashrate implements collector.Sink.
func (h *Hub) PublishHashrate(snapshot *collector.HashrateSnapshot) {
	h.broadcast(MsgHashrateData, snapshot)
}

// PublishLatency implements collector.Sink.
func (h *Hub) PublishLatency(snapshot *collector.LatencySnapshot) {
	h.broadcast(MsgLatencyData, snapshot)
}

// PublishReward implements collector.Sink.
func (h *Hub) PublishReward(snapshot *collector.RewardSnapshot) {
	h.broadcast(MsgRewardsData, snapshot)
}

// PublishHealth implements collector.Sink.
func (h *Hub) PublishHealth(snapshot *collector.HealthSnapshot) {
	h.broadcast(MsgNodeHealthData, snapshot)
}
