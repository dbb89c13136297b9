// Package units converts between base token units and display strings.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits one token is split into.
const Decimals = 6

// One is a whole token in base units.
const One uint64 = 1_000_000

var maxAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// Format renders amount base units as a token string without trailing
// zeros: 1950000 -> "1.95", 3000000 -> "3".
func Format(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -Decimals).String()
}

// FormatFixed renders amount with all Decimals fractional digits.
func FormatFixed(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -Decimals).StringFixed(Decimals)
}

// Parse converts a token string into base units. It rejects negative
// values, more than Decimals fractional digits, and amounts that overflow
// uint64.
func Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("parse amount %q: negative", s)
	}
	base := d.Shift(Decimals)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than %d decimals", s, Decimals)
	}
	if base.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("parse amount %q: overflows", s)
	}
	return base.BigInt().Uint64(), nil
}
