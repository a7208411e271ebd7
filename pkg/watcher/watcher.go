package watcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/internal/metrics"
	"github.com/tokenbridge/relayer/pkg/ethereum"
)

const scanRetryAttempts = 3

// ChainReader is the read side of the source chain.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterDepositLogs(ctx context.Context, fromBlock, toBlock uint64) ([]*ethereum.DepositEvent, error)
}

// CursorStore persists the last fully-scanned block.
type CursorStore interface {
	Load() (block uint64, found bool, err error)
	Save(block uint64) error
}

// Watcher drives the source-chain scan. Mutations happen only on the engine's
// cycle goroutine, but the status endpoint reads the cursor and pending count
// from HTTP goroutines, so the mutable state sits behind a lock.
type Watcher struct {
	reader ChainReader
	cursor CursorStore
	logger *zap.Logger

	confirmations    uint64
	maxScanBlocks    uint64
	headSafetyMargin uint64

	mu               sync.RWMutex
	lastScannedBlock uint64
	pending          map[ethereum.EventKey]*ethereum.DepositEvent
	promoted         map[ethereum.EventKey]bool
}

// Options configures a Watcher.
type Options struct {
	ConfirmationBlocks uint64
	MaxScanBlocks      uint64
	HeadSafetyMargin   uint64
	// StartBlock forces the initial cursor when no state is stored.
	// Zero means "start just below the current head".
	StartBlock uint64
}

// New restores the watcher's cursor from the store, or initializes it on a
// clean first run. Corrupted cursor state is a construction error, never a
// silent reset.
func New(ctx context.Context, reader ChainReader, cursor CursorStore, opts Options, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		reader:           reader,
		cursor:           cursor,
		logger:           logger,
		confirmations:    opts.ConfirmationBlocks,
		maxScanBlocks:    opts.MaxScanBlocks,
		headSafetyMargin: opts.HeadSafetyMargin,
		pending:          make(map[ethereum.EventKey]*ethereum.DepositEvent),
		promoted:         make(map[ethereum.EventKey]bool),
	}
	if w.maxScanBlocks == 0 {
		w.maxScanBlocks = 100
	}

	stored, found, err := cursor.Load()
	if err != nil {
		return nil, err
	}

	switch {
	case found:
		w.lastScannedBlock = stored
		logger.Info("Restored scan cursor", zap.Uint64("last_scanned_block", stored))
	case opts.StartBlock > 0:
		w.lastScannedBlock = opts.StartBlock
		logger.Info("Starting scan from configured block", zap.Uint64("start_block", opts.StartBlock))
	default:
		head, err := reader.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize scan cursor: %w", err)
		}
		if head > 0 {
			w.lastScannedBlock = head - 1
		}
		logger.Info("Starting scan from current head", zap.Uint64("head", head))
	}

	return w, nil
}

// LastScannedBlock returns the current cursor position.
func (w *Watcher) LastScannedBlock() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastScannedBlock
}

// PendingCount returns the number of observed-but-unconfirmed events.
func (w *Watcher) PendingCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.pending)
}

// Advance runs one scan step against the given chain head and returns the
// events that crossed the confirmation threshold, in block order. Returned
// events stay in the pending set until Ack removes them, so a confirmed
// deposit whose relay fails (or whose process dies mid-relay) is surfaced
// again on a later cycle.
//
// The durable cursor is written after classification and is held just below
// the oldest unresolved event: on restart everything not yet in the processed
// ledger is re-scanned rather than lost. The ledger absorbs the resulting
// re-observations.
func (w *Watcher) Advance(ctx context.Context, head uint64) ([]*ethereum.DepositEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	toBlock := head
	if w.headSafetyMargin > 0 {
		if head <= w.headSafetyMargin {
			// Nothing scannable yet, but pending events may still be
			// waiting on an ack.
			return w.confirmedEvents(head), nil
		}
		toBlock = head - w.headSafetyMargin
	}
	if toBlock <= w.lastScannedBlock {
		// Nothing new to scan; the head cannot have granted any pending
		// event more confirmations either.
		return w.confirmedEvents(head), nil
	}

	fromBlock := w.lastScannedBlock + 1
	if toBlock-fromBlock+1 > w.maxScanBlocks {
		toBlock = fromBlock + w.maxScanBlocks - 1
	}

	events, err := w.scan(ctx, fromBlock, toBlock)
	if err != nil {
		// Cursor and pending set are untouched; next cycle retries the
		// same window.
		return nil, err
	}

	for _, event := range events {
		key := event.Key()
		if _, seen := w.pending[key]; seen {
			continue
		}
		w.pending[key] = event
		w.logger.Info("New pending deposit",
			zap.String("event", key.String()),
			zap.Uint64("block", event.BlockNumber),
			zap.String("recipient", event.Recipient.Hex()),
			zap.String("amount", event.Amount.String()))
		metrics.EventsObserved.Inc()
	}

	confirmed := w.confirmedEvents(head)

	w.lastScannedBlock = toBlock
	if err := w.cursor.Save(w.durableCursor()); err != nil {
		return nil, fmt.Errorf("failed to persist scan cursor: %w", err)
	}
	metrics.LastScannedBlock.Set(float64(toBlock))
	metrics.PendingEvents.Set(float64(len(w.pending)))

	return confirmed, nil
}

// Ack removes resolved events from the pending set. The engine calls it after
// the relay stage for every event that was relayed, deduplicated, or failed
// fatally; retryable failures are not acked and come back next cycle.
func (w *Watcher) Ack(keys []ethereum.EventKey) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, key := range keys {
		delete(w.pending, key)
		delete(w.promoted, key)
	}
	metrics.PendingEvents.Set(float64(len(w.pending)))
}

// durableCursor is the highest block safe to persist: everything at or below
// it is either empty of deposits or already resolved. Unresolved events hold
// it back so a restart re-observes them.
func (w *Watcher) durableCursor() uint64 {
	cursor := w.lastScannedBlock
	for _, event := range w.pending {
		if event.BlockNumber == 0 {
			return 0
		}
		if event.BlockNumber-1 < cursor {
			cursor = event.BlockNumber - 1
		}
	}
	return cursor
}

// scan queries deposit logs in [fromBlock, toBlock] with bounded retry for
// transient RPC noise inside a single cycle.
func (w *Watcher) scan(ctx context.Context, fromBlock, toBlock uint64) ([]*ethereum.DepositEvent, error) {
	w.logger.Debug("Scanning for deposits",
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock))

	return retry.DoWithData(
		func() ([]*ethereum.DepositEvent, error) {
			return w.reader.FilterDepositLogs(ctx, fromBlock, toBlock)
		},
		retry.Context(ctx),
		retry.Attempts(scanRetryAttempts),
		retry.LastErrorOnly(true),
	)
}

// confirmedEvents collects every pending event with enough confirmations,
// sorted by (block, logIndex) so relays happen in non-decreasing block order.
// Events remain pending until acked.
func (w *Watcher) confirmedEvents(head uint64) []*ethereum.DepositEvent {
	var confirmed []*ethereum.DepositEvent
	for _, event := range w.pending {
		if head < event.BlockNumber {
			// The head moved behind the event's block; treat as zero
			// confirmations and keep waiting.
			continue
		}
		if head-event.BlockNumber >= w.confirmations {
			confirmed = append(confirmed, event)
		}
	}

	sort.Slice(confirmed, func(i, j int) bool {
		if confirmed[i].BlockNumber != confirmed[j].BlockNumber {
			return confirmed[i].BlockNumber < confirmed[j].BlockNumber
		}
		if confirmed[i].SourceTxHash != confirmed[j].SourceTxHash {
			return lessHash(confirmed[i].SourceTxHash, confirmed[j].SourceTxHash)
		}
		return confirmed[i].LogIndex < confirmed[j].LogIndex
	})

	for _, event := range confirmed {
		key := event.Key()
		if w.promoted[key] {
			continue
		}
		w.promoted[key] = true
		w.logger.Info("Deposit confirmed",
			zap.String("event", key.String()),
			zap.Uint64("block", event.BlockNumber),
			zap.Uint64("confirmations", head-event.BlockNumber))
		metrics.EventsConfirmed.Inc()
	}

	return confirmed
}

func lessHash(a, b common.Hash) bool {
	return a.Cmp(b) < 0
}
