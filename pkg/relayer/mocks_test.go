package relayer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenbridge/relayer/pkg/ethereum"
	"github.com/tokenbridge/relayer/pkg/state"
)

// MockWriter is a func-field mock of ChainWriter.
type MockWriter struct {
	PendingNonceFunc   func(ctx context.Context) (uint64, error)
	SubmitMintFunc     func(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error)
	WaitForReceiptFunc func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	submitted []common.Hash
}

func (m *MockWriter) PendingNonce(ctx context.Context) (uint64, error) {
	if m.PendingNonceFunc != nil {
		return m.PendingNonceFunc(ctx)
	}
	return 0, nil
}

func (m *MockWriter) SubmitMint(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error) {
	if m.SubmitMintFunc != nil {
		hash, err := m.SubmitMintFunc(ctx, nonce, recipient, amount, sourceTxHash)
		if err == nil {
			m.submitted = append(m.submitted, sourceTxHash)
		}
		return hash, err
	}
	m.submitted = append(m.submitted, sourceTxHash)
	return common.BytesToHash(sourceTxHash[:]), nil
}

func (m *MockWriter) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if m.WaitForReceiptFunc != nil {
		return m.WaitForReceiptFunc(ctx, txHash)
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

// MockLedger is an in-memory ProcessedLedger.
type MockLedger struct {
	AppendFunc func(rec state.RelayRecord) error

	mu      sync.Mutex
	records map[ethereum.EventKey]state.RelayRecord
}

func NewMockLedger() *MockLedger {
	return &MockLedger{records: make(map[ethereum.EventKey]state.RelayRecord)}
}

func (m *MockLedger) Contains(key ethereum.EventKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key]
	return ok
}

func (m *MockLedger) Append(rec state.RelayRecord) error {
	if m.AppendFunc != nil {
		if err := m.AppendFunc(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key]; !ok {
		m.records[rec.Key] = rec
	}
	return nil
}

// MockWatcher is a func-field mock of EventWatcher.
type MockWatcher struct {
	AdvanceFunc func(ctx context.Context, head uint64) ([]*ethereum.DepositEvent, error)

	mu    sync.Mutex
	acked []ethereum.EventKey
}

func (m *MockWatcher) Advance(ctx context.Context, head uint64) ([]*ethereum.DepositEvent, error) {
	if m.AdvanceFunc != nil {
		return m.AdvanceFunc(ctx, head)
	}
	return nil, nil
}

func (m *MockWatcher) Ack(keys []ethereum.EventKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, keys...)
}

func (m *MockWatcher) Acked() []ethereum.EventKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ethereum.EventKey(nil), m.acked...)
}

func (m *MockWatcher) PendingCount() int { return 0 }

// MockProcessor is a func-field mock of RelayProcessor.
type MockProcessor struct {
	ProcessFunc func(ctx context.Context, confirmed []*ethereum.DepositEvent) []Outcome
}

func (m *MockProcessor) Process(ctx context.Context, confirmed []*ethereum.DepositEvent) []Outcome {
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, confirmed)
	}
	return nil
}

// MockHead is a func-field mock of HeadReader.
type MockHead struct {
	BlockNumberFunc func(ctx context.Context) (uint64, error)
}

func (m *MockHead) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return 100, nil
}

// MockProber is a func-field mock of Prober.
type MockProber struct {
	CheckAllFunc func(ctx context.Context) error
}

func (m *MockProber) CheckAll(ctx context.Context) error {
	if m.CheckAllFunc != nil {
		return m.CheckAllFunc(ctx)
	}
	return nil
}
