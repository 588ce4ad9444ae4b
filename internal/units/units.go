// Package units converts between human-readable token amounts and integer
// smallest-unit values without ever going through floating point.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount reports an empty, malformed or negative amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTooPrecise reports an amount with more fractional digits than the
	// token supports.
	ErrTooPrecise = errors.New("amount has more decimal places than the token supports")
	// ErrOutOfRange reports a value wider than the target integer type.
	ErrOutOfRange = errors.New("amount out of range")
)

// MaxBits is the width of the EVM word every amount must fit in.
const MaxBits = 256

// CheckBits returns ErrOutOfRange when value does not fit in an unsigned
// integer of the given width.
func CheckBits(value *big.Int, bits int) error {
	if value != nil && value.BitLen() > bits {
		return fmt.Errorf("%w: %s does not fit in uint%d", ErrOutOfRange, value, bits)
	}
	return nil
}

// ParseUnits scales a decimal string such as "1.5" into smallest units using
// the given precision. Trailing fractional zeros are ignored, so "1.50" is
// accepted for a token with one decimal.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	raw := strings.TrimSpace(amount)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.ContainsAny(raw, "eE") {
		return nil, fmt.Errorf("%w: exponent notation %q", ErrInvalidAmount, raw)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, raw)
	}
	scaled := value.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q with %d decimals", ErrTooPrecise, raw, decimals)
	}
	result := scaled.BigInt()
	if err := CheckBits(result, MaxBits); err != nil {
		return nil, err
	}
	return result, nil
}

// FormatUnits renders a smallest-unit value as a decimal string with trailing
// fractional zeros removed.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// ParseInteger parses a raw base-10 integer such as a claim amount or index.
func ParseInteger(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative integer %q", ErrInvalidAmount, raw)
	}
	if err := CheckBits(value, MaxBits); err != nil {
		return nil, err
	}
	return value, nil
}
