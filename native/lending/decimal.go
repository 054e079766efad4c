package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFixed converts a decimal string such as "0.0495" or "37000" into an
// integer scaled by 10^decimals. Inputs carrying more fractional digits than
// decimals are rejected rather than rounded.
func ParseFixed(value string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty decimal", ErrInvalidParameter)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidParameter, value, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q exceeds %d decimals", ErrInvalidParameter, value, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseWad parses an 18-decimal fixed-point value.
func ParseWad(value string) (*big.Int, error) {
	return ParseFixed(value, 18)
}

// FormatFixed renders v scaled by 10^decimals as a plain decimal string
// without trailing zeros.
func FormatFixed(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
