package service

import (
	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// ToUnits scales a raw amount down by decimals. For display and exchange requests only.
func ToUnits(raw sdkmath.Int, decimals int32) decimal.Decimal {
	if raw.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw.BigInt(), -decimals)
}

// FromUnitsCeil scales units up by decimals, rounding any remainder up
func FromUnitsCeil(units decimal.Decimal, decimals int32) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(units.Shift(decimals).Ceil().BigInt())
}

// FormatUnits renders a raw amount as a decimal string without trailing zeros
func FormatUnits(raw sdkmath.Int, decimals int32) string {
	return ToUnits(raw, decimals).String()
}
