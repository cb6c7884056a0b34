package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"boxbridge/internal/config"
)

var (
	ErrNoSigner       = errors.New("client has no signer")
	ErrReceiptTimeout = errors.New("timeout waiting for transaction receipt")
)

// Backend is the part of an RPC client the agent uses; *ethclient.Client satisfies it
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxConfig holds the write path safety settings
type TxConfig struct {
	GasLimitMultiplierBps  int64
	GasPriceMultiplierBps  int64
	GasPriceCeilingBps     int64
	ReceiptTimeout         time.Duration
	ReceiptPollInterval    time.Duration
	ReceiptFallbackTimeout time.Duration
}

// TxConfigFromWorker extracts the write path settings from worker configuration
func TxConfigFromWorker(cfg config.WorkerConfig) TxConfig {
	return TxConfig{
		GasLimitMultiplierBps:  cfg.GasLimitMultiplierBps,
		GasPriceMultiplierBps:  cfg.GasPriceMultiplierBps,
		GasPriceCeilingBps:     cfg.GasPriceCeilingBps,
		ReceiptTimeout:         cfg.ReceiptTimeout,
		ReceiptPollInterval:    cfg.ReceiptPollInterval,
		ReceiptFallbackTimeout: cfg.ReceiptFallbackTimeout,
	}
}

// ContractCall is an unsigned call to a contract
type ContractCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Client wraps one EVM chain. Without a private key it is read-only.
type Client struct {
	backend     Backend
	closer      func()
	chainID     uint64
	name        string
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
	txCfg       TxConfig
	logger      *zap.Logger
}

// NewClient dials the chain's RPC endpoint. privateKey may be empty for read-only use.
func NewClient(chainCfg config.ChainConfig, privateKey string, txCfg TxConfig, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint for chain %d: %w", chainCfg.ChainID, err)
	}

	c, err := newClient(ethClient, chainCfg.ChainID, chainCfg.Name, privateKey, txCfg, logger)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	c.closer = ethClient.Close

	c.logger.Info("EVM client initialized",
		zap.Uint64("chain_id", c.chainID),
		zap.String("chain_name", c.name),
		zap.Bool("signer", c.privateKey != nil),
		zap.String("agent_address", c.fromAddress.Hex()))

	return c, nil
}

func newClient(backend Backend, chainID uint64, name, privateKey string, txCfg TxConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		backend: backend,
		closer:  func() {},
		chainID: chainID,
		name:    name,
		txCfg:   txCfg,
		logger:  logger.Named("evm").With(zap.Uint64("chain_id", chainID)),
	}

	if privateKey == "" {
		return c, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	c.privateKey = key
	c.fromAddress = crypto.PubkeyToAddress(key.PublicKey)

	return c, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.closer()
}

// ChainID returns the configured chain id
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// AgentAddress returns the signer's address, zero when read-only
func (c *Client) AgentAddress() common.Address {
	return c.fromAddress
}

// GasPrice returns the node's suggested gas price
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasPrice(ctx)
}

// ReadContract calls a view method and returns its unpacked outputs
func (c *Client) ReadContract(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

// TransactionReceipt returns the receipt of a mined transaction
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.backend.TransactionReceipt(ctx, txHash)
}

// SubmitContractTransaction simulates, prices, signs and broadcasts a contract call.
// The call is not sent if the gas estimate fails or the price ceiling check fails.
func (c *Client) SubmitContractTransaction(ctx context.Context, call ContractCall) (common.Hash, error) {
	if c.privateKey == nil {
		return common.Hash{}, ErrNoSigner
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	// Estimation doubles as simulation: a reverting call fails here
	estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.fromAddress,
		To:    &call.To,
		Data:  call.Data,
		Value: value,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimit := GasLimit(estimate, c.txCfg.GasLimitMultiplierBps)

	nonce, err := c.backend.PendingNonceAt(ctx, c.fromAddress)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	suggested, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	gasPrice, err := PriceGas(suggested, c.txCfg.GasPriceMultiplierBps, c.txCfg.GasPriceCeilingBps)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signer := types.NewLondonSigner(new(big.Int).SetUint64(c.chainID))
	signedTx, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("to", call.To.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("gas_price", gasPrice.String()))

	return signedTx.Hash(), nil
}

// WaitForReceipt polls for a receipt up to the receipt timeout, then once more for the
// fallback timeout. A reverted receipt is returned without error; callers check Status.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.pollReceipt(ctx, txHash, c.txCfg.ReceiptTimeout)
	if err == nil || !errors.Is(err, ErrReceiptTimeout) || ctx.Err() != nil {
		return receipt, err
	}

	c.logger.Warn("Receipt not found in time, trying extended wait",
		zap.String("tx_hash", txHash.Hex()),
		zap.Duration("fallback_timeout", c.txCfg.ReceiptFallbackTimeout))

	return c.pollReceipt(ctx, txHash, c.txCfg.ReceiptFallbackTimeout)
}

func (c *Client) pollReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.txCfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			c.logger.Debug("Receipt lookup failed", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

// SendContractTransaction submits a call and waits for its receipt
func (c *Client) SendContractTransaction(ctx context.Context, call ContractCall) (*types.Receipt, error) {
	txHash, err := c.SubmitContractTransaction(ctx, call)
	if err != nil {
		return nil, err
	}
	return c.WaitForReceipt(ctx, txHash)
}
