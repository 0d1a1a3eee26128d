package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"bitcoin-telemetry/logger"
	"bitcoin-telemetry/rpc"
)

var log = logger.Logger

const (
	// windowSize bounds the block history used for the tx/min moving average.
	windowSize = 10
	// defaultTxVBytes substitutes for transactions reporting neither vsize
	// nor weight.
	defaultTxVBytes = 225
	// degradedMempoolSize marks a failed best-effort mempool fetch.
	degradedMempoolSize = -1
)

type windowEntry struct {
	Height          int64
	TimestampMillis int64
	TxCount         int
}

// Block tracks the chain tip and produces block, transaction, and rate
// telemetry whenever the tip hash changes. All state is touched only from
// the polling cycle.
type Block struct {
	rpc      rpc.Caller
	lastHash string
	window   []windowEntry
}

// NewBlock creates a block collector with an empty history window.
func NewBlock(caller rpc.Caller) *Block {
	return &Block{rpc: caller}
}

// Wire shapes for getblock verbosity 2.
type rawBlock struct {
	Hash              string  `json:"hash"`
	Height            int64   `json:"height"`
	Time              int64   `json:"time"`
	Difficulty        float64 `json:"difficulty"`
	PreviousBlockHash string  `json:"previousblockhash"`
	Tx                []rawTx `json:"tx"`
}

type rawTx struct {
	TxID   string     `json:"txid"`
	Hash   string     `json:"hash"`
	VSize  int        `json:"vsize"`
	Weight int        `json:"weight"`
	Fee    float64    `json:"fee"`
	Vin    []rawTxIn  `json:"vin"`
	Vout   []rawTxOut `json:"vout"`
}

type rawTxIn struct {
	Coinbase string `json:"coinbase"`
}

type rawTxOut struct {
	Value float64 `json:"value"`
}

type rawMempoolInfo struct {
	Size int64 `json:"size"`
}

// Collect runs one polling cycle. It returns (nil, nil) when the tip hash is
// unchanged, so redundant block fetches and broadcasts are skipped.
func (c *Block) Collect(ctx context.Context) (*BlockUpdate, error) {
	var height int64
	result, err := c.rpc.Dispatch(ctx, "getblockcount")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block count: %w", err)
	}
	if err := json.Unmarshal(result, &height); err != nil {
		return nil, fmt.Errorf("failed to decode block count: %w", err)
	}

	var hash string
	result, err = c.rpc.Dispatch(ctx, "getblockhash", height)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block hash at height %d: %w", height, err)
	}
	if err := json.Unmarshal(result, &hash); err != nil {
		return nil, fmt.Errorf("failed to decode block hash: %w", err)
	}

	if hash == c.lastHash {
		log.WithFields(logger.Fields{"height": height, "hash": hash}).Debug("Chain tip unchanged, skipping block fetch")
		return nil, nil
	}

	result, err = c.rpc.Dispatch(ctx, "getblock", hash, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block %s: %w", hash, err)
	}
	var block rawBlock
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", hash, err)
	}

	snapshot, stats := c.summarize(&block)

	c.lastHash = hash
	c.push(windowEntry{
		Height:          block.Height,
		TimestampMillis: snapshot.TimestampMillis,
		TxCount:         stats.TxCount,
	})
	stats.TxPerMinute = c.txPerMinute()

	update := &BlockUpdate{
		Summary: BitcoinUpdate{
			Height:               block.Height,
			Hash:                 block.Hash,
			TimestampMillis:      snapshot.TimestampMillis,
			MempoolSize:          c.mempoolSize(ctx),
			TxCount:              stats.TxCount,
			TxPerMinute:          stats.TxPerMinute,
			BlockIntervalSeconds: c.blockInterval(),
		},
		Block: snapshot,
		Stats: stats,
	}

	log.WithFields(logger.Fields{
		"height":      block.Height,
		"hash":        block.Hash,
		"txCount":     stats.TxCount,
		"txPerMinute": stats.TxPerMinute,
	}).Info("New block observed")

	return update, nil
}

// summarize builds the block snapshot and aggregate transaction stats. The
// coinbase is excluded from the transaction list; its outputs become the
// block reward.
func (c *Block) summarize(block *rawBlock) (*BlockSnapshot, *TxStats) {
	var reward float64
	txs := make([]TxSummary, 0, len(block.Tx))
	stats := &TxStats{}

	for _, tx := range block.Tx {
		if isCoinbase(&tx) {
			for _, out := range tx.Vout {
				reward += out.Value
			}
			continue
		}

		size := txVBytes(&tx)
		feeRate := 0.0
		if tx.Fee > 0 && size > 0 {
			feeRate = round2(tx.Fee * 1e8 / float64(size))
		}

		txs = append(txs, TxSummary{
			ID:          tx.TxID,
			Hash:        tx.Hash,
			FeeBTC:      tx.Fee,
			SizeVBytes:  size,
			FeeRate:     feeRate,
			InputCount:  len(tx.Vin),
			OutputCount: len(tx.Vout),
		})

		stats.TotalFeesBTC += tx.Fee
		stats.AvgFeeRate += feeRate
		stats.AvgSizeVBytes += float64(size)
	}

	stats.TxCount = len(txs)
	if stats.TxCount > 0 {
		stats.AvgFeeBTC = stats.TotalFeesBTC / float64(stats.TxCount)
		// Mean of the already rounded per-tx rates, matching what the
		// dashboard has always displayed.
		stats.AvgFeeRate = round2(stats.AvgFeeRate / float64(stats.TxCount))
		stats.AvgSizeVBytes = round2(stats.AvgSizeVBytes / float64(stats.TxCount))
	}

	return &BlockSnapshot{
		Height:          block.Height,
		Hash:            block.Hash,
		TimestampMillis: block.Time * 1000,
		Difficulty:      block.Difficulty,
		ParentHash:      block.PreviousBlockHash,
		Transactions:    txs,
		RewardBTC:       reward,
	}, stats
}

// mempoolSize is best-effort: a failure degrades to -1 and never fails the
// cycle.
func (c *Block) mempoolSize(ctx context.Context) int64 {
	result, err := c.rpc.Dispatch(ctx, "getmempoolinfo")
	if err != nil {
		log.WithError(err).Warn("Failed to fetch mempool size, reporting degraded value")
		return degradedMempoolSize
	}
	var info rawMempoolInfo
	if err := json.Unmarshal(result, &info); err != nil {
		log.WithError(err).Warn("Failed to decode mempool info, reporting degraded value")
		return degradedMempoolSize
	}
	return info.Size
}

func (c *Block) push(entry windowEntry) {
	c.window = append(c.window, entry)
	if len(c.window) > windowSize {
		c.window = c.window[1:]
	}
}

// txPerMinute computes the moving transactions-per-minute average over the
// window's time span, 0 when fewer than two blocks are tracked.
func (c *Block) txPerMinute() float64 {
	if len(c.window) < 2 {
		return 0
	}

	spanSeconds := float64(c.window[len(c.window)-1].TimestampMillis-c.window[0].TimestampMillis) / 1000
	if spanSeconds <= 0 {
		return 0
	}

	totalTx := 0
	for _, entry := range c.window {
		totalTx += entry.TxCount
	}

	return round2(float64(totalTx) / (spanSeconds / 60))
}

// blockInterval is the gap in seconds between the two most recent blocks.
func (c *Block) blockInterval() float64 {
	if len(c.window) < 2 {
		return 0
	}
	last := c.window[len(c.window)-1]
	prev := c.window[len(c.window)-2]
	return float64(last.TimestampMillis-prev.TimestampMillis) / 1000
}

func isCoinbase(tx *rawTx) bool {
	return len(tx.Vin) > 0 && tx.Vin[0].Coinbase != ""
}

// txVBytes resolves a transaction's virtual size, preferring vsize, then
// weight/4 rounded up, then a 225-byte default.
func txVBytes(tx *rawTx) int {
	if tx.VSize > 0 {
		return tx.VSize
	}
	if tx.Weight > 0 {
		return int(math.Ceil(float64(tx.Weight) / 4))
	}
	return defaultTxVBytes
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
