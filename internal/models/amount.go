package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// RawAmount is an integer amount in the asset's smallest unit, stored as NUMERIC
type RawAmount struct {
	sdkmath.Int
}

// NewRawAmount wraps an sdkmath.Int
func NewRawAmount(i sdkmath.Int) RawAmount {
	return RawAmount{Int: i}
}

// RawFromInt64 builds a RawAmount from an int64
func RawFromInt64(i int64) RawAmount {
	return RawAmount{Int: sdkmath.NewInt(i)}
}

// RawFromBig builds a RawAmount from a big.Int
func RawFromBig(i *big.Int) RawAmount {
	return RawAmount{Int: sdkmath.NewIntFromBigInt(i)}
}

// ParseRawAmount parses a base-10 integer string
func ParseRawAmount(s string) (RawAmount, error) {
	i, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return RawAmount{}, fmt.Errorf("invalid raw amount %q", s)
	}
	return RawAmount{Int: i}, nil
}

// OrZero returns the amount, or zero when it was never set
func (a RawAmount) OrZero() sdkmath.Int {
	if a.Int.IsNil() {
		return sdkmath.ZeroInt()
	}
	return a.Int
}

// String renders the amount, "0" when unset
func (a RawAmount) String() string {
	return a.OrZero().String()
}

// Scan implements sql.Scanner for NUMERIC columns
func (a *RawAmount) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		a.Int = sdkmath.Int{}
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		a.Int = sdkmath.NewInt(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into RawAmount", src)
	}

	i, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return fmt.Errorf("invalid NUMERIC value %q", s)
	}
	a.Int = i
	return nil
}

// Value implements driver.Valuer
func (a RawAmount) Value() (driver.Value, error) {
	if a.Int.IsNil() {
		return nil, nil
	}
	return a.Int.String(), nil
}

// MarshalJSON renders the amount as a JSON string to keep precision
func (a RawAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON string or number
func (a *RawAmount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	parsed, err := ParseRawAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
