package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ERC20ABI is the subset of the ERC20 interface the agent reads
const ERC20ABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "from", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	},
	{
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var erc20ABI = mustParseABI(ERC20ABI)

// TransferLog is a decoded ERC20 Transfer event
type TransferLog struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
	Index uint
}

// DecodeTransferLogs returns every ERC20 Transfer in the receipt. Logs of other
// events, or transfers that do not decode (ERC721 style, bad data), are skipped.
func DecodeTransferLogs(receipt *types.Receipt) []TransferLog {
	if receipt == nil {
		return nil
	}

	var transfers []TransferLog
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) != 3 {
			continue
		}

		contract := bind.NewBoundContract(log.Address, erc20ABI, nil, nil, nil)
		var event struct {
			From  common.Address
			To    common.Address
			Value *big.Int
		}
		if err := contract.UnpackLog(&event, "Transfer", *log); err != nil {
			continue
		}
		if event.Value == nil {
			continue
		}

		transfers = append(transfers, TransferLog{
			Token: log.Address,
			From:  event.From,
			To:    event.To,
			Value: event.Value,
			Index: log.Index,
		})
	}
	return transfers
}

// FindTransfer returns the first transfer to recipient of exactly value
func FindTransfer(logs []TransferLog, recipient common.Address, value *big.Int) (TransferLog, bool) {
	for _, l := range logs {
		if l.To == recipient && l.Value.Cmp(value) == 0 {
			return l, true
		}
	}
	return TransferLog{}, false
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
