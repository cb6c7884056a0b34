package service

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	solsha3 "github.com/miguelmota/go-solidity-sha3"
)

// WithdrawalNonce derives the exchange withdrawal nonce for a deposit.
// The same proxy contract, origin chain and deposit id always yield the same nonce,
// so a retried withdrawal request is rejected by the exchange instead of paid twice.
// The keccak digest is truncated to 48 bits to stay within the exchange's integer range.
func WithdrawalNonce(proxyContract string, originChainID uint64, depositID *big.Int) int64 {
	digest := solsha3.SoliditySHA3(
		[]string{"address", "uint256", "uint256"},
		[]interface{}{
			common.HexToAddress(proxyContract),
			new(big.Int).SetUint64(originChainID),
			depositID,
		},
	)

	var buf [8]byte
	copy(buf[2:], digest[:6])
	return int64(binary.BigEndian.Uint64(buf[:]))
}
