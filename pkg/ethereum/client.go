package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/pkg/config"
)

const receiptPollInterval = 2 * time.Second

// Client wraps an ethclient connection to one chain. The same type serves as
// the read side on the source chain and the write side on the destination
// chain; only the write side needs a signing key.
type Client struct {
	client         *ethclient.Client
	chainID        *big.Int
	bridgeAddress  common.Address
	privateKey     *ecdsa.PrivateKey
	relayerAddress common.Address
	gasLimit       uint64
	logger         *zap.Logger
}

// NewReader connects a read-only client to the source chain.
func NewReader(cfg *config.ChainConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source RPC: %w", err)
	}

	bridgeAddress := common.HexToAddress(cfg.BridgeContract)
	logger.Info("Connected to source chain",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("bridge_contract", bridgeAddress.Hex()))

	return &Client{
		client:        client,
		chainID:       big.NewInt(cfg.ChainID),
		bridgeAddress: bridgeAddress,
		logger:        logger,
	}, nil
}

// NewWriter connects a signing client to the destination chain.
func NewWriter(cfg *config.ChainConfig, relayerCfg *config.RelayerConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to destination RPC: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(relayerCfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load relayer private key: %w", err)
	}

	relayerAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	bridgeAddress := common.HexToAddress(cfg.BridgeContract)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		// Not configured; ask the node.
		remote, err := client.ChainID(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to query destination chain ID: %w", err)
		}
		chainID = remote
	}

	logger.Info("Connected to destination chain",
		zap.Int64("chain_id", chainID.Int64()),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("bridge_contract", bridgeAddress.Hex()),
		zap.String("relayer_address", relayerAddress.Hex()))

	return &Client{
		client:         client,
		chainID:        chainID,
		bridgeAddress:  bridgeAddress,
		privateKey:     privateKey,
		relayerAddress: relayerAddress,
		gasLimit:       relayerCfg.GasLimit,
		logger:         logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// RelayerAddress returns the address derived from the signing key.
func (c *Client) RelayerAddress() common.Address {
	return c.relayerAddress
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return head, nil
}

// FilterDepositLogs queries TokensDeposited logs from the bridge contract in
// [fromBlock, toBlock] and decodes them. Individual logs that fail to decode
// are skipped with a warning; a transport failure surfaces as ErrRead.
func (c *Client) FilterDepositLogs(ctx context.Context, fromBlock, toBlock uint64) ([]*DepositEvent, error) {
	query := geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.bridgeAddress},
		Topics:    [][]common.Hash{{DepositTopic()}},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs [%d, %d]: %v", ErrRead, fromBlock, toBlock, err)
	}

	events := make([]*DepositEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := decodeDepositLog(log)
		if err != nil {
			c.logger.Warn("Skipping undecodable deposit log",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// PendingNonce returns the next nonce for the relayer address, including
// transactions still in the mempool.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.relayerAddress)
	if err != nil {
		return 0, fmt.Errorf("%w: pending nonce: %v", ErrWrite, err)
	}
	return nonce, nil
}

// SubmitMint signs and sends a mintBridgedTokens transaction for a confirmed
// deposit. The source tx hash rides along as a call argument so the contract
// can enforce its own replay protection.
func (c *Client) SubmitMint(ctx context.Context, nonce uint64, recipient common.Address, amount *big.Int, sourceTxHash common.Hash) (common.Hash, error) {
	data, err := packMintCall(recipient, amount, sourceTxHash)
	if err != nil {
		// Encoding never succeeds on retry; the coordinator treats it as fatal.
		return common.Hash{}, err
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: suggest gas price: %v", ErrWrite, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.bridgeAddress,
		Value:    big.NewInt(0),
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign mint transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: send mint transaction: %v", ErrWrite, err)
	}

	c.logger.Info("Mint transaction submitted",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("nonce", nonce))

	return signed.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or the context expires.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, geth.NotFound) {
			return nil, fmt.Errorf("%w: transaction receipt: %v", ErrWrite, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
