// Package money converts amounts between the ledger's major currency unit
// and the units providers put on the wire.  All conversions go through
// ToMinor so a single rounding rule applies everywhere: the minor amount
// is the major amount times 100 rounded half away from zero.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of minor units in one major unit.
const MinorPerMajor = 100

var hundred = decimal.NewFromInt(MinorPerMajor)

// ErrInvalidAmount is returned when a wire amount cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// ToMinor converts a major-unit amount to minor units.
func ToMinor(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts minor units to an exact major-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Matches reports whether a ledger amount and a minor-unit wire amount
// describe the same sum.
func Matches(major decimal.Decimal, minor int64) bool {
	return ToMinor(major) == minor
}

// Unit describes how a provider encodes amounts on the wire.
type Unit int

const (
	// Minor is an integer count of minor units (e.g. 5000000 for 50000.00).
	Minor Unit = iota
	// Major is a decimal string in the major unit (e.g. "50000.00").
	Major
)

// Parse reads a wire amount and returns it in minor units.  Major amounts
// with more than two fractional digits are rounded with the same rule as
// ToMinor.
func (u Unit) Parse(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.IsNegative() {
		return 0, ErrInvalidAmount
	}
	switch u {
	case Minor:
		if !d.Equal(d.Truncate(0)) {
			return 0, ErrInvalidAmount
		}
		return d.IntPart(), nil
	default:
		return ToMinor(d), nil
	}
}

// Format renders a minor-unit amount the way the provider expects it.
func (u Unit) Format(minor int64) string {
	if u == Minor {
		return decimal.NewFromInt(minor).String()
	}
	return FromMinor(minor).StringFixed(2)
}
