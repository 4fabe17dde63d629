// Package amount converts between on-chain wei integers and the decimal
// strings used at the application boundary. All arithmetic is exact.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits implied by one native unit.
const Decimals = 18

var (
	ErrEmpty       = errors.New("amount is empty")
	ErrMalformed   = errors.New("amount is not a plain decimal number")
	ErrTooPrecise  = errors.New("amount has more than 18 decimal places")
	ErrNotPositive = errors.New("amount must be greater than zero")

	decimalPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
)

// ToWei parses a non-negative decimal string such as "0.25" into wei.
// Exponent notation, signs and more than 18 fractional digits are rejected.
func ToWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q", ErrTooPrecise, s)
	}
	return scaled.BigInt(), nil
}

// ToPositiveWei is ToWei with an additional > 0 check, used for payments
// and targets.
func ToPositiveWei(s string) (*big.Int, error) {
	wei, err := ToWei(s)
	if err != nil {
		return nil, err
	}
	if wei.Sign() <= 0 {
		return nil, ErrNotPositive
	}
	return wei, nil
}

// FromWei renders wei as a decimal string with trailing zeros trimmed and at
// least one fractional digit: 1e18 -> "1.0", 0 -> "0.0", 1 -> "0.000000000000000001".
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -Decimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Ratio returns part/whole clamped to [0,1]. A zero whole yields 0 so that a
// freshly created zero-target record renders as 0% instead of dividing by zero.
// The float is for display only.
func Ratio(part, whole *big.Int) float64 {
	if whole == nil || whole.Sign() <= 0 || part == nil || part.Sign() <= 0 {
		return 0
	}
	if part.Cmp(whole) >= 0 {
		return 1
	}
	r, _ := new(big.Rat).SetFrac(part, whole).Float64()
	return r
}

// Progress is Ratio over decimal strings. Unparseable input yields an error.
func Progress(collected, total string) (float64, error) {
	part, err := ToWei(collected)
	if err != nil {
		return 0, fmt.Errorf("collected: %w", err)
	}
	whole, err := ToWei(total)
	if err != nil {
		return 0, fmt.Errorf("total: %w", err)
	}
	return Ratio(part, whole), nil
}
