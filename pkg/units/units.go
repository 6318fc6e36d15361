// Package units converts between human-readable ether amounts and wei.
package units

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the base unit (wei per ether = 10^18).
const Decimals = 18

// maxBits caps amounts to what fits into a uint256 contract argument.
const maxBits = 256

// maxDigits is the number of decimal digits of the largest uint256.
const maxDigits = 78

// ErrInvalidAmount is returned for non-numeric, negative or over-precise amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// ToBaseUnit converts a decimal ether amount ("2.5") into wei.
func ToBaseUnit(amount string) (*big.Int, error) {
	d, err := parse(amount)
	if err != nil {
		return nil, err
	}

	wei := d.Shift(Decimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q has more than %d fractional digits", amount, Decimals)
	}

	out := wei.BigInt()
	if out.BitLen() > maxBits {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q does not fit into 256 bits", amount)
	}

	return out, nil
}

// ToDecimal renders wei as a canonical ether string: no trailing zeros, no exponent.
func ToDecimal(wei *big.Int) string {
	return ToDecimalAmount(wei).String()
}

// ToDecimalAmount converts wei into an ether decimal.
func ToDecimalAmount(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -Decimals)
}

// Normalize returns the canonical form of a valid amount, e.g. "02.50" -> "2.5".
func Normalize(amount string) (string, error) {
	wei, err := ToBaseUnit(amount)
	if err != nil {
		return "", err
	}
	return ToDecimal(wei), nil
}

func parse(amount string) (decimal.Decimal, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return decimal.Zero, errors.Wrap(ErrInvalidAmount, "amount is empty")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%q is not a number", amount)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%q is negative", amount)
	}
	if d.IsZero() {
		return decimal.Zero, nil
	}
	// reject out-of-range exponents before any scaling
	if exp := int64(d.Exponent()); exp > maxDigits || exp < -(Decimals+maxDigits) {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%q exponent is out of range", amount)
	}

	return d, nil
}
