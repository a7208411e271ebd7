package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKey uniquely identifies a deposit event across the life of the bridge.
// (SourceTxHash, LogIndex) is immutable once observed and is the dedup key for
// the processed ledger.
type EventKey struct {
	SourceTxHash common.Hash `json:"source_tx_hash"`
	LogIndex     uint        `json:"log_index"`
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.SourceTxHash.Hex(), k.LogIndex)
}

// DepositEvent represents a TokensDeposited event observed on the source chain
type DepositEvent struct {
	SourceTxHash common.Hash
	LogIndex     uint
	BlockNumber  uint64
	Sender       common.Address
	Recipient    common.Address
	Amount       *big.Int
}

// Key returns the dedup key for the event.
func (e *DepositEvent) Key() EventKey {
	return EventKey{SourceTxHash: e.SourceTxHash, LogIndex: e.LogIndex}
}
