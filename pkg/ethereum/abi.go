package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bridge contract fragments the relayer interacts with. The source contract
// emits TokensDeposited; the destination contract exposes mintBridgedTokens,
// which takes the source tx hash so the contract can reject replays itself.
const bridgeABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "TokensDeposited",
		"type": "event"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "recipient", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes32", "name": "sourceTxHash", "type": "bytes32"}
		],
		"name": "mintBridgedTokens",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const (
	depositEventName = "TokensDeposited"
	mintMethodName   = "mintBridgedTokens"
)

var bridgeContract = mustParseABI(bridgeABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid bridge ABI: %v", err))
	}
	return parsed
}

// DepositTopic returns the topic hash of the TokensDeposited event.
func DepositTopic() common.Hash {
	return bridgeContract.Events[depositEventName].ID
}

// decodeDepositLog decodes a raw log into a DepositEvent. The sender and
// recipient are indexed topics; only the amount lives in the data segment.
func decodeDepositLog(log types.Log) (*DepositEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != DepositTopic() {
		return nil, fmt.Errorf("log %s:%d is not a %s event", log.TxHash.Hex(), log.Index, depositEventName)
	}

	values, err := bridgeContract.Unpack(depositEventName, log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %w", depositEventName, err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T in %s event", values[0], depositEventName)
	}

	return &DepositEvent{
		SourceTxHash: log.TxHash,
		LogIndex:     log.Index,
		BlockNumber:  log.BlockNumber,
		Sender:       common.BytesToAddress(log.Topics[1].Bytes()),
		Recipient:    common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:       amount,
	}, nil
}

// packMintCall encodes the mintBridgedTokens calldata for a confirmed deposit.
func packMintCall(recipient common.Address, amount *big.Int, sourceTxHash common.Hash) ([]byte, error) {
	data, err := bridgeContract.Pack(mintMethodName, recipient, amount, [32]byte(sourceTxHash))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", mintMethodName, err)
	}
	return data, nil
}
