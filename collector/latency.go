package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"bitcoin-telemetry/rpc"
)

// maxPingMillis discards converted ping values at or above 10 seconds as
// outliers.
const maxPingMillis = 10000

// Latency samples peer round-trip times each cycle.
type Latency struct {
	rpc rpc.Caller
}

// NewLatency creates a latency collector.
func NewLatency(caller rpc.Caller) *Latency {
	return &Latency{rpc: caller}
}

type rawPeer struct {
	// Pingtime is in seconds; peers that have not answered a ping yet omit
	// it or report junk, so decode loosely and validate per peer.
	PingTime json.RawMessage `json:"pingtime"`
}

// pingMillis converts a raw pingtime to milliseconds, reporting false for
// missing, non-numeric, or non-positive values.
func (p *rawPeer) pingMillis() (float64, bool) {
	if len(p.PingTime) == 0 {
		return 0, false
	}
	var seconds float64
	if err := json.Unmarshal(p.PingTime, &seconds); err != nil {
		return 0, false
	}
	if seconds <= 0 {
		return 0, false
	}
	return seconds * 1000, true
}

// Collect fetches the peer list and aggregates valid pings. A cycle with no
// valid pings still yields a zero-filled snapshot.
func (c *Latency) Collect(ctx context.Context) (*LatencySnapshot, error) {
	result, err := c.rpc.Dispatch(ctx, "getpeerinfo")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch peer info: %w", err)
	}

	var peers []rawPeer
	if err := json.Unmarshal(result, &peers); err != nil {
		return nil, fmt.Errorf("failed to decode peer info: %w", err)
	}

	valid := make([]float64, 0, len(peers))
	for _, peer := range peers {
		millis, ok := peer.pingMillis()
		if !ok || millis >= maxPingMillis {
			continue
		}
		valid = append(valid, millis)
	}

	snapshot := &LatencySnapshot{
		ValidPingsMillis: valid,
		PeerCount:        len(peers),
		ValidPingCount:   len(valid),
		TimestampMillis:  nowMillis(),
	}

	if len(valid) == 0 {
		log.WithField("peerCount", len(peers)).Warn("No valid peer pings this cycle")
		return snapshot, nil
	}

	var sum, peak float64
	for _, ping := range valid {
		sum += ping
		if ping > peak {
			peak = ping
		}
	}
	snapshot.AverageLatencyMillis = round2(sum / float64(len(valid)))
	snapshot.PeakLatencyMillis = peak

	return snapshot, nil
}
