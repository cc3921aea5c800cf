// Package amount converts between human decimal strings and integer base
// units. No other package performs this conversion.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// MaxDecimals bounds token precision accepted from configuration.
const MaxDecimals = 36

// maxDigits is the digit count of the largest uint256.
const maxDigits = 78

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseUnits converts a decimal string such as "12.5" into base units for a
// token with the given number of decimals. Negative values and values with
// more fractional digits than the token supports are rejected, as are values
// that do not fit in a uint256.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount: empty value: %w", domain.ErrInvalidInput)
	}
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("amount: %d decimals unsupported: %w", decimals, domain.ErrInvalidInput)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("amount: parse %q: %w", s, domain.ErrInvalidInput)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("amount: negative value %q: %w", s, domain.ErrInvalidInput)
	}
	if exp := d.Exponent(); exp > maxDigits || exp < -maxDigits {
		return nil, fmt.Errorf("amount: %q out of range: %w", s, domain.ErrInvalidInput)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount: %q has more than %d fractional digits: %w", s, decimals, domain.ErrInvalidInput)
	}
	v := shifted.BigInt()
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("amount: %q out of range: %w", s, domain.ErrInvalidInput)
	}
	return v, nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
// A nil value formats as "0".
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// Display renders base units with exactly places fractional digits. Extra
// digits are truncated, never rounded, so a displayed payout is never more
// than what the ledger will transfer.
func Display(v *big.Int, decimals uint8, places int32) string {
	if v == nil {
		v = new(big.Int)
	}
	if places < 0 {
		places = 0
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).Truncate(places).StringFixed(places)
}
