package relayer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/internal/metrics"
	"github.com/tokenbridge/relayer/pkg/ethereum"
)

// State is the engine's position in its cycle state machine.
type State string

const (
	StateHealthy   State = "healthy"
	StateScanning  State = "scanning"
	StateRelaying  State = "relaying"
	StateSleeping  State = "sleeping"
	StateUnhealthy State = "unhealthy"
)

// EventWatcher drives the source-chain scan for one cycle.
type EventWatcher interface {
	Advance(ctx context.Context, head uint64) ([]*ethereum.DepositEvent, error)
	Ack(keys []ethereum.EventKey)
	PendingCount() int
}

// RelayProcessor relays a batch of confirmed events.
type RelayProcessor interface {
	Process(ctx context.Context, confirmed []*ethereum.DepositEvent) []Outcome
}

// HeadReader reports the source-chain head for confirmation math.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Prober checks liveness of both chain endpoints before a cycle runs.
type Prober interface {
	CheckAll(ctx context.Context) error
}

// Engine ties watcher and coordinator into the periodic scan-and-relay loop.
// One cycle runs to completion before the next starts; there is no concurrent
// access to the pending set or the stores.
type Engine struct {
	watcher     EventWatcher
	coordinator RelayProcessor
	head        HeadReader
	prober      Prober
	logger      *zap.Logger

	scanInterval     time.Duration
	unhealthyBackoff time.Duration

	mu    sync.RWMutex
	state State

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates the process loop.
func NewEngine(
	watcher EventWatcher,
	coordinator RelayProcessor,
	head HeadReader,
	prober Prober,
	scanInterval time.Duration,
	unhealthyBackoff time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		watcher:          watcher,
		coordinator:      coordinator,
		head:             head,
		prober:           prober,
		logger:           logger,
		scanInterval:     scanInterval,
		unhealthyBackoff: unhealthyBackoff,
		state:            StateHealthy,
		stopCh:           make(chan struct{}),
	}
}

// Start launches the cycle loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting relayer engine",
		zap.Duration("scan_interval", e.scanInterval),
		zap.Duration("unhealthy_backoff", e.unhealthyBackoff))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
}

// Stop stops the engine and waits for the in-flight cycle to finish. An
// in-flight submission is not rolled back; the ledger decides on restart.
func (e *Engine) Stop() {
	e.logger.Info("Stopping relayer engine")
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("Relayer engine stopped")
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsReady reports whether the last probe succeeded.
func (e *Engine) IsReady() bool {
	return e.State() != StateUnhealthy
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context) {
	for {
		sleep := e.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// cycle runs one probe-scan-relay pass and returns how long to sleep before
// the next one. A cycle error never terminates the loop.
func (e *Engine) cycle(ctx context.Context) time.Duration {
	if err := e.prober.CheckAll(ctx); err != nil {
		// Endpoint downtime is expected infrastructure noise: flag it,
		// back off, and retry indefinitely.
		if e.State() != StateUnhealthy {
			e.logger.Error("Chain endpoint unhealthy, pausing cycles", zap.Error(err))
		}
		e.setState(StateUnhealthy)
		return e.unhealthyBackoff
	}
	if e.State() == StateUnhealthy {
		e.logger.Info("Chain endpoints healthy again, resuming cycles")
	}
	e.setState(StateHealthy)

	started := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}()

	e.setState(StateScanning)
	head, err := e.head.BlockNumber(ctx)
	if err != nil {
		e.logger.Warn("Failed to read source chain head", zap.Error(err))
		metrics.ScanErrors.Inc()
		e.setState(StateSleeping)
		return e.scanInterval
	}

	confirmed, err := e.watcher.Advance(ctx, head)
	if err != nil {
		e.logger.Warn("Scan cycle failed, cursor unchanged", zap.Error(err))
		metrics.ScanErrors.Inc()
		e.setState(StateSleeping)
		return e.scanInterval
	}

	if len(confirmed) > 0 {
		e.setState(StateRelaying)
		outcomes := e.coordinator.Process(ctx, confirmed)

		// Everything except a retryable failure is resolved; retryable
		// events stay pending and come back next cycle.
		resolved := make([]ethereum.EventKey, 0, len(outcomes))
		var relayed, retryable, fatal int
		for _, o := range outcomes {
			switch o.Status {
			case StatusRelayed, StatusSkipped:
				resolved = append(resolved, o.Key)
				relayed++
			case StatusRetryable:
				retryable++
			case StatusFatal:
				resolved = append(resolved, o.Key)
				fatal++
			}
		}
		e.watcher.Ack(resolved)

		e.logger.Info("Relay batch complete",
			zap.Int("relayed", relayed),
			zap.Int("retryable", retryable),
			zap.Int("fatal", fatal),
			zap.Int("still_pending", e.watcher.PendingCount()))
	}

	e.setState(StateSleeping)
	return e.scanInterval
}
