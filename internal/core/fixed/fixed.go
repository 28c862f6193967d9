// Package fixed provides checked fixed-point arithmetic for money and token
// amounts.
//
// Amounts are non-negative scaled integers carried in decimal.Decimal: USD
// values use 8 decimal places (1 USD = 1e8 base units) and token quantities
// use 18 (1 token = 1e18 base units). Division always truncates toward zero,
// and because decimals are arbitrary precision no operation can wrap.
package fixed

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// TokenUnit is one whole token in 18-decimal base units.
	TokenUnit = decimal.New(1, 18)
	// USDUnit is one USD in 8-decimal base units.
	USDUnit = decimal.New(1, 8)
	// BpsDenominator is the basis-point scale (10000 bps = 100%).
	BpsDenominator = decimal.New(10000, 0)
	// MaxAllowance is the unlimited-allowance sentinel (2^256 - 1).
	MaxAllowance = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)
)

// ErrDivisionByZero indicates a zero divisor.
var ErrDivisionByZero = errors.New("division by zero")

// MulDiv returns a*b/den truncated toward zero.
func MulDiv(a, b, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	quo, _ := a.Mul(b).QuoRem(den, 0)
	return quo, nil
}

// Bps returns amount*bps/10000 truncated toward zero.
func Bps(amount decimal.Decimal, bps uint32) decimal.Decimal {
	quo, _ := amount.Mul(decimal.NewFromInt(int64(bps))).QuoRem(BpsDenominator, 0)
	return quo
}

// Rescale converts an amount between base-unit scales, truncating any
// fraction that a downward shift produces.
func Rescale(amount decimal.Decimal, fromDecimals, toDecimals int32) decimal.Decimal {
	return amount.Shift(toDecimals - fromDecimals).Truncate(0)
}

// IsAmount reports whether d is a valid amount: a non-negative integer in
// base units.
func IsAmount(d decimal.Decimal) bool {
	return d.Sign() >= 0 && d.Equal(d.Truncate(0))
}

// IsPositiveAmount reports whether d is a valid amount strictly above zero.
func IsPositiveAmount(d decimal.Decimal) bool {
	return d.Sign() > 0 && d.Equal(d.Truncate(0))
}
