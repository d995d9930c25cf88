package chain

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Miner advances a Local chain by one block every interval, so a dev
// server without a genesis still sees refund windows close.
//
//	miner := chain.NewMiner(local, 12*time.Second, logger)
//	miner.Start()
//	defer miner.Stop()
type Miner struct {
	chain    *Local
	interval time.Duration
	logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMiner creates a stopped miner.
func NewMiner(chain *Local, interval time.Duration, logger *zap.Logger) *Miner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{chain: chain, interval: interval, logger: logger.Named("miner")}
}

// Start begins mining. Calling Start on a running miner does nothing.
func (m *Miner) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.interval)
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.ticker, m.stop)

	m.logger.Info("miner started", zap.Duration("interval", m.interval))
}

// Stop halts mining and waits for the loop to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.logger.Info("miner stopped")
}

func (m *Miner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-ticker.C:
			height := m.chain.Mine(1)
			m.logger.Debug("block mined", zap.Uint64("height", uint64(height)))
		case <-stop:
			return
		}
	}
}
