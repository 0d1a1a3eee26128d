package collector

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is the cadence between polling cycles.
const DefaultPollInterval = 10 * time.Second

// Sink receives each collector's output. The broadcast hub implements it.
type Sink interface {
	PublishBlock(update *BlockUpdate)
	PublishBlockError(message string)
	PublishHashrate(snapshot *HashrateSnapshot)
	PublishLatency(snapshot *LatencySnapshot)
	PublishReward(snapshot *RewardSnapshot)
	PublishHealth(snapshot *HealthSnapshot)
}

// Scheduler drives all collectors on a fixed cadence. Collectors run
// concurrently within a cycle but cycles never overlap, so collector state
// is only ever mutated by one cycle at a time.
type Scheduler struct {
	interval time.Duration
	sink     Sink

	block    *Block
	hashrate *Hashrate
	latency  *Latency
	reward   *Reward
	health   *Health

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires the collectors to the sink.
func NewScheduler(interval time.Duration, sink Sink, block *Block, hashrate *Hashrate, latency *Latency, reward *Reward, health *Health) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		interval: interval,
		sink:     sink,
		block:    block,
		hashrate: hashrate,
		latency:  latency,
		reward:   reward,
		health:   health,
	}
}

// Start launches the polling loop. The first cycle runs immediately.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	log.WithField("interval", s.interval).Info("Polling scheduler started")

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	log.Info("Polling scheduler stopped")
}

// runCycle executes every collector concurrently and publishes each result
// individually, so one collector's failure never suppresses the others.
func (s *Scheduler) runCycle(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		update, err := s.block.Collect(ctx)
		if err != nil {
			log.WithError(err).Error("Block collection failed")
			s.sink.PublishBlockError("Unable to determine current block state")
			return
		}
		if update != nil {
			s.sink.PublishBlock(update)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshot, err := s.hashrate.Collect(ctx)
		if err != nil {
			log.WithError(err).Error("Hashrate collection failed")
			return
		}
		s.sink.PublishHashrate(snapshot)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshot, err := s.latency.Collect(ctx)
		if err != nil {
			log.WithError(err).Error("Latency collection failed")
			return
		}
		s.sink.PublishLatency(snapshot)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshot, err := s.reward.Collect(ctx)
		if err != nil {
			log.WithError(err).Error("Reward collection failed")
			return
		}
		s.sink.PublishReward(snapshot)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshot, err := s.health.Collect(ctx)
		if err != nil {
			log.WithError(err).Error("Node health collection failed")
			return
		}
		s.sink.PublishHealth(snapshot)
	}()

	wg.Wait()
}
