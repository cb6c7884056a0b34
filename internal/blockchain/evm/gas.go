package evm

import (
	"errors"
	"fmt"
	"math/big"
)

const bpsDenominator = 10_000

// ErrGasCeiling aborts a send when the safety ceiling does not clear the applied gas price
var ErrGasCeiling = errors.New("gas price safety ceiling not above applied price")

// MulBps returns v * bps / 10000, truncated
func MulBps(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

// PriceGas applies the multiplier to a suggested gas price and checks it against the ceiling
func PriceGas(suggested *big.Int, multiplierBps, ceilingBps int64) (*big.Int, error) {
	applied := MulBps(suggested, multiplierBps)
	ceiling := MulBps(suggested, ceilingBps)
	if ceiling.Cmp(applied) <= 0 {
		return nil, fmt.Errorf("%w: ceiling %s, applied %s", ErrGasCeiling, ceiling, applied)
	}
	return applied, nil
}

// GasLimit scales a gas estimate by multiplierBps
func GasLimit(estimate uint64, multiplierBps int64) uint64 {
	return MulBps(new(big.Int).SetUint64(estimate), multiplierBps).Uint64()
}
