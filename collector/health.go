package collector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"bitcoin-telemetry/rpc"
)

// Health bundles several node status facets into one snapshot per cycle.
// Facets are fetched concurrently and degrade individually: a failed facet
// is nil, never a failed bundle.
type Health struct {
	rpc rpc.Caller

	// NTPServer enables the clock-offset facet when non-empty.
	NTPServer string

	// queryNTP is swapped out in tests.
	queryNTP func(server string) (time.Duration, error)
}

// NewHealth creates a health collector. ntpServer may be empty to skip the
// clock-offset facet.
func NewHealth(caller rpc.Caller, ntpServer string) *Health {
	return &Health{
		rpc:       caller,
		NTPServer: ntpServer,
		queryNTP:  clockOffset,
	}
}

func clockOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Collect fetches all facets concurrently and assembles the snapshot.
func (c *Health) Collect(ctx context.Context) (*HealthSnapshot, error) {
	snapshot := &HealthSnapshot{TimestampMillis: nowMillis()}

	var wg sync.WaitGroup

	fetch := func(method string, into *json.RawMessage) {
		defer wg.Done()
		result, err := c.rpc.Dispatch(ctx, method)
		if err != nil {
			log.WithError(err).WithField("method", method).Warn("Node health facet unavailable")
			return
		}
		*into = result
	}

	wg.Add(3)
	go fetch("getblockchaininfo", &snapshot.BlockchainInfo)
	go fetch("getnetworkinfo", &snapshot.NetworkInfo)
	go fetch("getmempoolinfo", &snapshot.MempoolInfo)

	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := c.rpc.Dispatch(ctx, "getpeerinfo")
		if err != nil {
			log.WithError(err).Warn("Node health facet unavailable: peer count")
			return
		}
		var peers []json.RawMessage
		if err := json.Unmarshal(result, &peers); err != nil {
			log.WithError(err).Warn("Failed to decode peer list for health snapshot")
			return
		}
		count := len(peers)
		snapshot.PeerCount = &count
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := c.rpc.Dispatch(ctx, "uptime")
		if err != nil {
			log.WithError(err).Warn("Node health facet unavailable: uptime")
			return
		}
		var uptime int64
		if err := json.Unmarshal(result, &uptime); err != nil {
			log.WithError(err).Warn("Failed to decode node uptime")
			return
		}
		snapshot.UptimeSeconds = &uptime
	}()

	if c.NTPServer != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			offset, err := c.queryNTP(c.NTPServer)
			if err != nil {
				log.WithError(err).WithField("server", c.NTPServer).Warn("NTP clock offset unavailable")
				return
			}
			millis := float64(offset) / float64(time.Millisecond)
			snapshot.ClockOffsetMillis = &millis
		}()
	}

	wg.Wait()
	return snapshot, nil
}
