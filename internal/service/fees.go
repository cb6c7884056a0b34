package service

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// BpsDenominator is the basis-point scale used by all fee math
const BpsDenominator = 10_000

// ErrNonPositiveWithdraw is returned when fees consume the whole deposit
var ErrNonPositiveWithdraw = errors.New("withdraw amount would be zero or negative after fees")

// FeeSchedule is a token group's fee configuration
type FeeSchedule struct {
	CapitalBps     uint32
	ServiceFlatRaw sdkmath.Int
}

// FeeSnapshot is the fee schedule applied to one deposit, frozen at registration
type FeeSnapshot struct {
	CapitalBps uint32
	CapitalRaw sdkmath.Int
	ServiceRaw sdkmath.Int
}

// CapitalFee returns ceil(amount * bps / 10000) using integer arithmetic only
func CapitalFee(amount sdkmath.Int, bps uint32) sdkmath.Int {
	if amount.IsNil() || !amount.IsPositive() || bps == 0 {
		return sdkmath.ZeroInt()
	}
	numerator := amount.MulRaw(int64(bps))
	return numerator.AddRaw(BpsDenominator - 1).QuoRaw(BpsDenominator)
}

// ServiceFee returns the flat service fee, or zero when the amount is below twice the fee
func ServiceFee(amount, flat sdkmath.Int) sdkmath.Int {
	if amount.IsNil() || flat.IsNil() || !flat.IsPositive() {
		return sdkmath.ZeroInt()
	}
	if amount.GTE(flat.MulRaw(2)) {
		return flat
	}
	return sdkmath.ZeroInt()
}

// NewFeeSnapshot applies schedule to a deposit amount
func NewFeeSnapshot(amount sdkmath.Int, schedule FeeSchedule) FeeSnapshot {
	return FeeSnapshot{
		CapitalBps: schedule.CapitalBps,
		CapitalRaw: CapitalFee(amount, schedule.CapitalBps),
		ServiceRaw: ServiceFee(amount, schedule.ServiceFlatRaw),
	}
}

// WithdrawAmount returns deposit - capital - service - exchange
func WithdrawAmount(deposit sdkmath.Int, snapshot FeeSnapshot, exchangeFee sdkmath.Int) (sdkmath.Int, error) {
	withdraw := deposit.Sub(snapshot.CapitalRaw).Sub(snapshot.ServiceRaw).Sub(exchangeFee)
	if !withdraw.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit %s, capital %s, service %s, exchange %s",
			ErrNonPositiveWithdraw, deposit, snapshot.CapitalRaw, snapshot.ServiceRaw, exchangeFee)
	}
	return withdraw, nil
}
