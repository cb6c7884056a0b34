package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"boxbridge/internal/config"
)

// ErrUnknownChain is returned for a chain id without a configured client
var ErrUnknownChain = errors.New("chain not configured")

// Gateway routes chain operations to the client of each configured chain
type Gateway struct {
	clients map[uint64]*Client
	logger  *zap.Logger
}

// NewGateway dials every configured chain. privateKey may be empty for a read-only gateway.
func NewGateway(chains map[uint64]config.ChainConfig, privateKey string, txCfg TxConfig, logger *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		clients: make(map[uint64]*Client, len(chains)),
		logger:  logger,
	}

	for id, chainCfg := range chains {
		client, err := NewClient(chainCfg, privateKey, txCfg, logger)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("chain %d: %w", id, err)
		}
		g.clients[id] = client
	}

	return g, nil
}

// NewGatewayFromClients builds a gateway over already constructed clients
func NewGatewayFromClients(logger *zap.Logger, clients ...*Client) *Gateway {
	g := &Gateway{
		clients: make(map[uint64]*Client, len(clients)),
		logger:  logger,
	}
	for _, c := range clients {
		g.clients[c.ChainID()] = c
	}
	return g
}

// Close closes every client
func (g *Gateway) Close() {
	for _, c := range g.clients {
		c.Close()
	}
}

// Client returns the client of a chain
func (g *Gateway) Client(chainID uint64) (*Client, error) {
	c, ok := g.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return c, nil
}

// GasPrice returns the suggested gas price of a chain in wei
func (g *Gateway) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.GasPrice(ctx)
}

// ProxyChainID reads the chain id a proxy contract was deployed for
func (g *Gateway) ProxyChainID(ctx context.Context, chainID uint64, proxy string) (uint64, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return 0, err
	}

	out, err := c.ReadContract(ctx, common.HexToAddress(proxy), proxyABI, "chainId")
	if err != nil {
		return 0, fmt.Errorf("proxy %s not readable on chain %d: %w", proxy, chainID, err)
	}
	id, ok := out[0].(*big.Int)
	if !ok || !id.IsUint64() {
		return 0, fmt.Errorf("unexpected chainId result %v", out[0])
	}
	return id.Uint64(), nil
}

// IsRecipientAllowed reads the proxy contract's recipient allow-list
func (g *Gateway) IsRecipientAllowed(ctx context.Context, chainID uint64, proxy, recipient string) (bool, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return false, err
	}

	out, err := c.ReadContract(ctx, common.HexToAddress(proxy), proxyABI, "allowedRecipients", common.HexToAddress(recipient))
	if err != nil {
		return false, err
	}
	allowed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected allowedRecipients result %v", out[0])
	}
	return allowed, nil
}

// TokenBalance reads an ERC20 balance
func (g *Gateway) TokenBalance(ctx context.Context, chainID uint64, token, holder string) (*big.Int, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return nil, err
	}

	out, err := c.ReadContract(ctx, common.HexToAddress(token), erc20ABI, "balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %v", out[0])
	}
	return balance, nil
}

// SubmitRelease broadcasts withdrawToRecipient on the destination chain and returns the tx hash
func (g *Gateway) SubmitRelease(ctx context.Context, chainID uint64, release Release) (string, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return "", err
	}

	data, err := PackRelease(release)
	if err != nil {
		return "", err
	}

	txHash, err := c.SubmitContractTransaction(ctx, ContractCall{To: release.Proxy, Data: data})
	if err != nil {
		return "", err
	}
	return txHash.Hex(), nil
}

// WaitForReceipt waits for a transaction on a chain, including the fallback poll
func (g *Gateway) WaitForReceipt(ctx context.Context, chainID uint64, txHash string) (*types.Receipt, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.WaitForReceipt(ctx, common.HexToHash(txHash))
}

// TransactionReceipt returns the receipt of a mined transaction on a chain
func (g *Gateway) TransactionReceipt(ctx context.Context, chainID uint64, txHash string) (*types.Receipt, error) {
	c, err := g.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c.TransactionReceipt(ctx, common.HexToHash(txHash))
}
