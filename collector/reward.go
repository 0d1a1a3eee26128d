package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitcoin-telemetry/logger"
	"bitcoin-telemetry/rpc"
)

const (
	// halvingInterval is the block-subsidy halving epoch length.
	halvingInterval = 210000
	// initialRewardBTC is the era-zero block subsidy.
	initialRewardBTC = 50.0
	// blocksPerDay assumes the ten-minute target block time.
	blocksPerDay = 144
	// rewardHistorySize bounds the in-process reward history.
	rewardHistorySize = 30
)

// Reward derives block subsidy economics from the current height and keeps a
// bounded history of observed rewards.
type Reward struct {
	rpc     rpc.Caller
	history []RewardEntry

	// PriceUSD, when set, converts history rewards to USD. Left nil the USD
	// column stays zero; price feeds live outside this service.
	PriceUSD func() float64
}

// NewReward creates a reward collector with an empty history.
func NewReward(caller rpc.Caller) *Reward {
	return &Reward{rpc: caller}
}

// Collect computes the reward snapshot for the current chain height. The
// best-block timestamp is best-effort; on failure it stays nil and the rest
// of the snapshot still broadcasts.
func (c *Reward) Collect(ctx context.Context) (*RewardSnapshot, error) {
	var count int64
	result, err := c.rpc.Dispatch(ctx, "getblockcount")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block count: %w", err)
	}
	if err := json.Unmarshal(result, &count); err != nil {
		return nil, fmt.Errorf("failed to decode block count: %w", err)
	}

	halvings := count / halvingInterval
	reward := initialRewardBTC
	for i := int64(0); i < halvings; i++ {
		reward /= 2
	}

	snapshot := &RewardSnapshot{
		BlockCount:           count,
		Halvings:             halvings,
		BlockRewardBTC:       reward,
		TotalRewardsBTC:      totalRewards(count),
		RewardPerDayBTC:      reward * blocksPerDay,
		LastRewardTimeMillis: c.bestBlockTime(ctx),
		NextHalvingHeight:    (halvings + 1) * halvingInterval,
		BlocksUntilHalving:   (halvings+1)*halvingInterval - count,
	}

	c.record(count, reward, snapshot.LastRewardTimeMillis)
	snapshot.History = append([]RewardEntry(nil), c.history...)

	return snapshot, nil
}

// totalRewards sums the subsidy of every mined block by walking the halving
// eras. The iteration keeps the result exact where a closed form would drift
// at floating precision edges.
func totalRewards(count int64) float64 {
	total := 0.0
	reward := initialRewardBTC
	for start := int64(0); start < count; start += halvingInterval {
		blocks := count - start
		if blocks > halvingInterval {
			blocks = halvingInterval
		}
		total += float64(blocks) * reward
		reward /= 2
	}
	return total
}

// bestBlockTime fetches the timestamp of the best block. Best-effort: a nil
// return degrades the field without failing the cycle.
func (c *Reward) bestBlockTime(ctx context.Context) *int64 {
	result, err := c.rpc.Dispatch(ctx, "getbestblockhash")
	if err != nil {
		log.WithError(err).Warn("Failed to fetch best block hash for reward timestamp")
		return nil
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		log.WithError(err).Warn("Failed to decode best block hash")
		return nil
	}

	result, err = c.rpc.Dispatch(ctx, "getblock", hash, 1)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch best block for reward timestamp")
		return nil
	}
	var block struct {
		Time int64 `json:"time"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		log.WithError(err).Warn("Failed to decode best block")
		return nil
	}

	millis := block.Time * 1000
	return &millis
}

// record appends a history entry unless the height was already seen, evicting
// the oldest entry at capacity.
func (c *Reward) record(height int64, reward float64, observedMillis *int64) {
	for _, entry := range c.history {
		if entry.Height == height {
			return
		}
	}

	timestamp := time.Now().UTC()
	if observedMillis != nil {
		timestamp = time.UnixMilli(*observedMillis).UTC()
	}

	usd := 0.0
	if c.PriceUSD != nil {
		usd = round2(reward * c.PriceUSD())
	}

	c.history = append(c.history, RewardEntry{
		Height:    height,
		Timestamp: timestamp.Format(time.RFC3339),
		RewardBTC: reward,
		RewardUSD: usd,
	})
	if len(c.history) > rewardHistorySize {
		c.history = c.history[1:]
	}

	log.WithFields(logger.Fields{
		"height": height,
		"reward": reward,
	}).Debug("Recorded block reward")
}
