package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/internal/metrics"
	"github.com/tokenbridge/relayer/pkg/ethereum"
	"github.com/tokenbridge/relayer/pkg/state"
)

// ChainWriter is the write side of the destination chain.
type ChainWriter interface {
	PendingNonce(ctx context.Context) (uint64, error)
	SubmitMint(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ProcessedLedger is the durable set of already-relayed event keys.
type ProcessedLedger interface {
	Contains(key ethereum.EventKey) bool
	Append(rec state.RelayRecord) error
}

// OutcomeStatus classifies the result of one relay attempt.
type OutcomeStatus string

const (
	// StatusRelayed: mint submitted and recorded in the ledger.
	StatusRelayed OutcomeStatus = "relayed"
	// StatusSkipped: key already in the ledger; nothing submitted.
	StatusSkipped OutcomeStatus = "skipped"
	// StatusRetryable: transient failure; the event stays eligible and is
	// retried on a later cycle.
	StatusRetryable OutcomeStatus = "retryable"
	// StatusFatal: the submission cannot succeed without operator action.
	StatusFatal OutcomeStatus = "fatal"
)

// Outcome reports what happened to one confirmed event.
type Outcome struct {
	Key        ethereum.EventKey
	Status     OutcomeStatus
	DestTxHash common.Hash
	Err        error
}

// Coordinator consumes confirmed deposits and drives mint submissions on the
// destination chain. The processed ledger is checked before every attempt and
// written immediately after every success; it is the only thing standing
// between a crash-restart and a double mint.
type Coordinator struct {
	writer         ChainWriter
	ledger         ProcessedLedger
	logger         *zap.Logger
	waitForReceipt bool
}

// NewCoordinator creates a relay coordinator.
func NewCoordinator(writer ChainWriter, ledger ProcessedLedger, waitForReceipt bool, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		writer:         writer,
		ledger:         ledger,
		logger:         logger,
		waitForReceipt: waitForReceipt,
	}
}

// Process relays the confirmed events in input order and returns one outcome
// per event. A retryable failure leaves the event out of the ledger so the
// next cycle picks it up again; a fatal failure is surfaced for the operator.
func (c *Coordinator) Process(ctx context.Context, confirmed []*ethereum.DepositEvent) []Outcome {
	outcomes := make([]Outcome, 0, len(confirmed))
	for _, event := range confirmed {
		outcome := c.relay(ctx, event)
		outcomes = append(outcomes, outcome)
		metrics.RelaysTotal.WithLabelValues(string(outcome.Status)).Inc()

		switch outcome.Status {
		case StatusRelayed:
			c.logger.Info("Deposit relayed",
				zap.String("event", outcome.Key.String()),
				zap.String("dest_tx_hash", outcome.DestTxHash.Hex()))
		case StatusSkipped:
			c.logger.Debug("Deposit already relayed, skipping",
				zap.String("event", outcome.Key.String()))
		case StatusRetryable:
			c.logger.Warn("Relay failed, will retry next cycle",
				zap.String("event", outcome.Key.String()),
				zap.Error(outcome.Err))
		case StatusFatal:
			c.logger.Error("Relay failed permanently, operator action required",
				zap.String("event", outcome.Key.String()),
				zap.Error(outcome.Err))
		}
	}
	return outcomes
}

func (c *Coordinator) relay(ctx context.Context, event *ethereum.DepositEvent) Outcome {
	key := event.Key()
	if c.ledger.Contains(key) {
		return Outcome{Key: key, Status: StatusSkipped}
	}

	// Nonce is fetched fresh per event rather than cached across the batch.
	// Slower, but immune to stale-nonce rejections.
	nonce, err := c.writer.PendingNonce(ctx)
	if err != nil {
		return Outcome{Key: key, Status: StatusRetryable, Err: err}
	}

	txHash, err := c.writer.SubmitMint(ctx, nonce, event.Recipient, event.Amount, event.SourceTxHash)
	if err != nil {
		return Outcome{Key: key, Status: classify(err), Err: err}
	}

	if c.waitForReceipt {
		receipt, err := c.writer.WaitForReceipt(ctx, txHash)
		if err != nil {
			// Submission already happened; record it anyway. The contract's
			// own sourceTxHash dedup covers an uncertain outcome.
			c.logger.Warn("Receipt wait failed after submission",
				zap.String("event", key.String()),
				zap.String("dest_tx_hash", txHash.Hex()),
				zap.Error(err))
		} else if receipt.Status != types.ReceiptStatusSuccessful {
			return Outcome{Key: key, Status: StatusFatal,
				Err: fmt.Errorf("mint transaction %s reverted", txHash.Hex())}
		}
	}

	rec := state.RelayRecord{
		Key:        key,
		DestTxHash: txHash.Hex(),
		RelayedAt:  time.Now().Unix(),
	}
	if err := c.ledger.Append(rec); err != nil {
		// The mint went out but the ledger write failed. Treat as fatal so
		// the operator sees it; on restart the contract-side dedup absorbs
		// the one duplicate attempt.
		return Outcome{Key: key, Status: StatusFatal, DestTxHash: txHash, Err: err}
	}

	return Outcome{Key: key, Status: StatusRelayed, DestTxHash: txHash}
}

// fatalSubmitErrors are node rejections that no amount of retrying fixes.
var fatalSubmitErrors = []string{
	"insufficient funds",
	"execution reverted",
	"gas required exceeds allowance",
	"invalid sender",
	"exceeds block gas limit",
}

// classify splits submission failures into retryable transport noise and
// fatal rejections.
func classify(err error) OutcomeStatus {
	if err == nil {
		return StatusRelayed
	}
	msg := strings.ToLower(err.Error())
	for _, fatal := range fatalSubmitErrors {
		if strings.Contains(msg, fatal) {
			return StatusFatal
		}
	}
	if errors.Is(err, ethereum.ErrWrite) {
		return StatusRetryable
	}
	// Anything outside the WriteError taxonomy (encoding, signing) cannot
	// succeed on retry.
	return StatusFatal
}
