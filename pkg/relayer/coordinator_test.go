package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/pkg/ethereum"
	"github.com/tokenbridge/relayer/pkg/state"
)

func deposit(b byte, logIndex uint) *ethereum.DepositEvent {
	return &ethereum.DepositEvent{
		SourceTxHash: common.BytesToHash([]byte{b}),
		LogIndex:     logIndex,
		BlockNumber:  100,
		Recipient:    common.BytesToAddress([]byte{0x42}),
		Amount:       big.NewInt(5000),
	}
}

func TestProcess_RelaysAndRecords(t *testing.T) {
	writer := &MockWriter{}
	ledger := NewMockLedger()
	coord := NewCoordinator(writer, ledger, false, zap.NewNop())

	event := deposit(0xaa, 0)
	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{event})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusRelayed, outcomes[0].Status)
	assert.True(t, ledger.Contains(event.Key()), "successful relay lands in the ledger")
	assert.Len(t, writer.submitted, 1)
}

func TestProcess_SkipsAlreadyRelayed(t *testing.T) {
	writer := &MockWriter{}
	ledger := NewMockLedger()
	event := deposit(0xaa, 0)
	require.NoError(t, ledger.Append(state.RelayRecord{Key: event.Key(), DestTxHash: "0x1"}))

	coord := NewCoordinator(writer, ledger, false, zap.NewNop())
	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{event})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Empty(t, writer.submitted, "duplicates never reach the destination chain")
}

func TestProcess_NonceFailureIsRetryable(t *testing.T) {
	writer := &MockWriter{
		PendingNonceFunc: func(ctx context.Context) (uint64, error) {
			return 0, fmt.Errorf("%w: connection refused", ethereum.ErrWrite)
		},
	}
	ledger := NewMockLedger()
	coord := NewCoordinator(writer, ledger, false, zap.NewNop())

	event := deposit(0xbb, 0)
	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{event})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusRetryable, outcomes[0].Status)
	assert.False(t, ledger.Contains(event.Key()), "failed relay stays out of the ledger")
}

func TestProcess_TransientSubmitFailureIsRetryable(t *testing.T) {
	writer := &MockWriter{
		SubmitMintFunc: func(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error) {
			return common.Hash{}, fmt.Errorf("%w: i/o timeout", ethereum.ErrWrite)
		},
	}
	coord := NewCoordinator(writer, NewMockLedger(), false, zap.NewNop())

	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{deposit(0xcc, 0)})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusRetryable, outcomes[0].Status)
}

func TestProcess_NodeRejectionIsFatal(t *testing.T) {
	writer := &MockWriter{
		SubmitMintFunc: func(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error) {
			return common.Hash{}, fmt.Errorf("%w: insufficient funds for gas * price + value", ethereum.ErrWrite)
		},
	}
	ledger := NewMockLedger()
	coord := NewCoordinator(writer, ledger, false, zap.NewNop())

	event := deposit(0xdd, 0)
	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{event})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFatal, outcomes[0].Status)
	assert.False(t, ledger.Contains(event.Key()))
}

func TestProcess_RevertedReceiptIsFatal(t *testing.T) {
	writer := &MockWriter{
		WaitForReceiptFunc: func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusFailed}, nil
		},
	}
	ledger := NewMockLedger()
	coord := NewCoordinator(writer, ledger, true, zap.NewNop())

	event := deposit(0xee, 0)
	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{event})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFatal, outcomes[0].Status)
	assert.False(t, ledger.Contains(event.Key()), "reverted mint is not recorded as relayed")
}

func TestProcess_ReceiptWaitErrorStillRecords(t *testing.T) {
	writer := &MockWriter{
		WaitForReceiptFunc: func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
			return nil, errors.New("rpc timeout")
		},
	}
	ledger := NewMockLedger()
	coord := NewCoordinator(writer, ledger, true, zap.NewNop())

	event := deposit(0xef, 0)
	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{event})

	// The submission went out; an uncertain receipt must not trigger a
	// resubmission on the next cycle.
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusRelayed, outcomes[0].Status)
	assert.True(t, ledger.Contains(event.Key()))
}

func TestProcess_LedgerWriteFailureIsFatal(t *testing.T) {
	ledger := NewMockLedger()
	ledger.AppendFunc = func(rec state.RelayRecord) error {
		return errors.New("disk full")
	}
	writer := &MockWriter{}
	coord := NewCoordinator(writer, ledger, false, zap.NewNop())

	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{deposit(0xf0, 0)})
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFatal, outcomes[0].Status)
	assert.NotEqual(t, common.Hash{}, outcomes[0].DestTxHash, "submitted hash surfaces for the operator")
}

func TestProcess_OneFailureDoesNotBlockTheBatch(t *testing.T) {
	bad := deposit(0x01, 0)
	good := deposit(0x02, 0)

	writer := &MockWriter{
		SubmitMintFunc: func(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error) {
			if sourceTxHash == bad.SourceTxHash {
				return common.Hash{}, fmt.Errorf("%w: connection reset", ethereum.ErrWrite)
			}
			return common.BytesToHash(sourceTxHash[:]), nil
		},
	}
	ledger := NewMockLedger()
	coord := NewCoordinator(writer, ledger, false, zap.NewNop())

	outcomes := coord.Process(context.Background(), []*ethereum.DepositEvent{bad, good})
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusRetryable, outcomes[0].Status)
	assert.Equal(t, StatusRelayed, outcomes[1].Status)
	assert.True(t, ledger.Contains(good.Key()))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want OutcomeStatus
	}{
		{"transient write error", fmt.Errorf("%w: dial tcp: timeout", ethereum.ErrWrite), StatusRetryable},
		{"insufficient funds", fmt.Errorf("%w: insufficient funds for transfer", ethereum.ErrWrite), StatusFatal},
		{"execution reverted", fmt.Errorf("%w: execution reverted: already processed", ethereum.ErrWrite), StatusFatal},
		{"invalid sender", fmt.Errorf("%w: invalid sender", ethereum.ErrWrite), StatusFatal},
		{"gas allowance", fmt.Errorf("%w: gas required exceeds allowance", ethereum.ErrWrite), StatusFatal},
		{"non-write error", errors.New("abi packing failed"), StatusFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
