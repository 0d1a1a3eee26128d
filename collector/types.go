package collector

import "encoding/json"

// TxSummary describes one non-coinbase transaction of a block.
type TxSummary struct {
	ID          string  `json:"id"`
	Hash        string  `json:"hash"`
	FeeBTC      float64 `json:"fee"`
	SizeVBytes  int     `json:"size"`
	FeeRate     float64 `json:"feeRate"` // sat/vB, rounded to 2 decimals
	InputCount  int     `json:"inputs"`
	OutputCount int     `json:"outputs"`
}

// BlockSnapshot is the full view of the most recently observed block.
// Transactions excludes the coinbase; RewardBTC is the sum of its outputs.
type BlockSnapshot struct {
	Height          int64       `json:"height"`
	Hash            string      `json:"hash"`
	TimestampMillis int64       `json:"timestamp"`
	Difficulty      float64     `json:"difficulty"`
	ParentHash      string      `json:"parentHash"`
	Transactions    []TxSummary `json:"transactions"`
	RewardBTC       float64     `json:"reward"`
}

// TxStats aggregates fee and size statistics across a block's transactions.
type TxStats struct {
	TxCount       int     `json:"txCount"`
	TotalFeesBTC  float64 `json:"totalFees"`
	AvgFeeBTC     float64 `json:"avgFee"`
	AvgFeeRate    float64 `json:"avgFeeRate"`
	AvgSizeVBytes float64 `json:"avgTxSize"`
	TxPerMinute   float64 `json:"txPerMinute"`
}

// BitcoinUpdate is the compact per-cycle summary broadcast alongside the
// full block snapshot.
type BitcoinUpdate struct {
	Height               int64   `json:"height"`
	Hash                 string  `json:"hash"`
	TimestampMillis      int64   `json:"timestamp"`
	MempoolSize          int64   `json:"mempoolSize"` // -1 when the fetch degraded
	TxCount              int     `json:"txCount"`
	TxPerMinute          float64 `json:"txPerMinute"`
	BlockIntervalSeconds float64 `json:"blockInterval"` // 0 until two blocks are seen
}

// BlockUpdate bundles everything the block collector produces for one new
// block. A nil BlockUpdate means the chain tip did not change.
type BlockUpdate struct {
	Summary BitcoinUpdate
	Block   *BlockSnapshot
	Stats   *TxStats
}

// HashrateSnapshot reports network hashrate in EH/s and difficulty in
// tera-units.
type HashrateSnapshot struct {
	HashrateEH      float64 `json:"hashrate"`
	DifficultyT     float64 `json:"difficulty"`
	TimestampMillis int64   `json:"timestamp"`
}

// LatencySnapshot aggregates peer round-trip times for one cycle.
type LatencySnapshot struct {
	ValidPingsMillis     []float64 `json:"validPings"`
	AverageLatencyMillis float64   `json:"averageLatency"`
	PeakLatencyMillis    float64   `json:"peakLatency"`
	PeerCount            int       `json:"peerCount"`
	ValidPingCount       int       `json:"validPingCount"`
	TimestampMillis      int64     `json:"timestamp"`
}

// RewardEntry is one row of the in-process reward history.
type RewardEntry struct {
	Height    int64   `json:"height"`
	Timestamp string  `json:"timestamp"`
	RewardBTC float64 `json:"reward"`
	RewardUSD float64 `json:"rewardUsd"`
}

// RewardSnapshot carries block subsidy economics derived from the current
// height. LastRewardTimeMillis is nil when the best-effort timestamp fetch
// failed.
type RewardSnapshot struct {
	BlockCount           int64         `json:"blockCount"`
	Halvings             int64         `json:"halvings"`
	BlockRewardBTC       float64       `json:"blockReward"`
	TotalRewardsBTC      float64       `json:"totalRewardsToDate"`
	RewardPerDayBTC      float64       `json:"rewardRatePerDay"`
	LastRewardTimeMillis *int64        `json:"lastRewardTime"`
	NextHalvingHeight    int64         `json:"nextHalvingHeight"`
	BlocksUntilHalving   int64         `json:"blocksUntilHalving"`
	History              []RewardEntry `json:"history"`
}

// HealthSnapshot bundles the node status facets fetched each cycle. Facets
// that failed are nil rather than failing the bundle.
type HealthSnapshot struct {
	BlockchainInfo    json.RawMessage `json:"blockchainInfo"`
	NetworkInfo       json.RawMessage `json:"networkInfo"`
	MempoolInfo       json.RawMessage `json:"mempoolInfo"`
	PeerCount         *int            `json:"peerCount"`
	UptimeSeconds     *int64          `json:"uptimeSeconds"`
	ClockOffsetMillis *float64        `json:"clockOffset"`
	TimestampMillis   int64           `json:"timestamp"`
}
