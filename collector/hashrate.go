package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitcoin-telemetry/rpc"
)

// difficultyTTL bounds how long a fetched difficulty is reused.
const difficultyTTL = 30 * time.Second

// Hashrate fetches network hashrate every cycle and difficulty at most once
// per difficultyTTL.
type Hashrate struct {
	rpc rpc.Caller

	cachedDifficulty  float64
	difficultyFetched time.Time

	now func() time.Time
}

// NewHashrate creates a hashrate collector with an empty difficulty cache.
func NewHashrate(caller rpc.Caller) *Hashrate {
	return &Hashrate{rpc: caller, now: time.Now}
}

// Collect fetches current hashrate and (possibly cached) difficulty,
// converting to EH/s and tera-units.
func (c *Hashrate) Collect(ctx context.Context) (*HashrateSnapshot, error) {
	var hashrate float64
	result, err := c.rpc.Dispatch(ctx, "getnetworkhashps")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch network hashrate: %w", err)
	}
	if err := json.Unmarshal(result, &hashrate); err != nil {
		return nil, fmt.Errorf("failed to decode network hashrate: %w", err)
	}

	difficulty, err := c.difficulty(ctx)
	if err != nil {
		return nil, err
	}

	return &HashrateSnapshot{
		HashrateEH:      hashrate / 1e18,
		DifficultyT:     difficulty / 1e12,
		TimestampMillis: c.now().UnixMilli(),
	}, nil
}

func (c *Hashrate) difficulty(ctx context.Context) (float64, error) {
	if !c.difficultyFetched.IsZero() && c.now().Sub(c.difficultyFetched) <= difficultyTTL {
		return c.cachedDifficulty, nil
	}

	result, err := c.rpc.Dispatch(ctx, "getdifficulty")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch difficulty: %w", err)
	}
	var difficulty float64
	if err := json.Unmarshal(result, &difficulty); err != nil {
		return 0, fmt.Errorf("failed to decode difficulty: %w", err)
	}

	c.cachedDifficulty = difficulty
	c.difficultyFetched = c.now()
	return difficulty, nil
}
