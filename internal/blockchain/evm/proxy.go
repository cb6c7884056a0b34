package evm

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferProxyABI is the subset of the TransferProxy contract used by the agent
const TransferProxyABI = `[
	{
		"inputs": [],
		"name": "chainId",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"name": "allowedRecipients",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "_assetAddress", "type": "address"},
			{"internalType": "address", "name": "_recipientAddress", "type": "address"},
			{"internalType": "uint256", "name": "_amount", "type": "uint256"},
			{"internalType": "uint32", "name": "_depositId", "type": "uint32"},
			{"internalType": "uint256", "name": "_originChainId", "type": "uint256"}
		],
		"name": "withdrawToRecipient",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var proxyABI = mustParseABI(TransferProxyABI)

// Release is a proxy contract payout to the recipient of a bridged deposit
type Release struct {
	Proxy         common.Address
	Asset         common.Address
	Recipient     common.Address
	Amount        *big.Int
	DepositID     *big.Int
	OriginChainID uint64
}

// PackRelease encodes the withdrawToRecipient call
func PackRelease(r Release) ([]byte, error) {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("release amount must be positive")
	}
	if r.DepositID == nil || !r.DepositID.IsUint64() || r.DepositID.Uint64() > math.MaxUint32 {
		return nil, fmt.Errorf("deposit id %v does not fit uint32", r.DepositID)
	}

	data, err := proxyABI.Pack("withdrawToRecipient",
		r.Asset,
		r.Recipient,
		r.Amount,
		uint32(r.DepositID.Uint64()),
		new(big.Int).SetUint64(r.OriginChainID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack withdrawToRecipient call: %w", err)
	}
	return data, nil
}
