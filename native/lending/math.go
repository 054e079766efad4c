package lending

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerYear = 365 * secondsPerDay
)

var (
	// WAD is the 18-decimal fixed-point unit used for prices, rates and
	// normalized account values.
	WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	bigDay  = big.NewInt(secondsPerDay)
	bigYear = big.NewInt(secondsPerYear)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// bounded fails when v leaves the unsigned 256-bit range.
func bounded(v *big.Int) (*big.Int, error) {
	if v == nil {
		return big.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative intermediate %s", ErrArithmetic, v)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, fmt.Errorf("%w: 256-bit overflow", ErrArithmetic)
	}
	return v, nil
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	return bounded(new(big.Int).Add(zeroIfNil(a), zeroIfNil(b)))
}

func checkedSub(a, b *big.Int) (*big.Int, error) {
	return bounded(new(big.Int).Sub(zeroIfNil(a), zeroIfNil(b)))
}

// mulDiv computes a*b/d rounding toward zero.
func mulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	product, err := bounded(new(big.Int).Mul(zeroIfNil(a), zeroIfNil(b)))
	if err != nil {
		return nil, err
	}
	return product.Quo(product, d), nil
}

// mulDivUp computes a*b/d rounding away from zero.
func mulDivUp(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	product, err := bounded(new(big.Int).Mul(zeroIfNil(a), zeroIfNil(b)))
	if err != nil {
		return nil, err
	}
	quo, rem := new(big.Int).QuoRem(product, d, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

func wadMul(a, b *big.Int) (*big.Int, error) {
	return mulDiv(a, b, WAD)
}

func wadDiv(a, b *big.Int) (*big.Int, error) {
	return mulDiv(a, WAD, b)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Normalize converts a native amount into the 18-decimal unit of account
// using an 18-decimal USD price: amount * price / 10^decimals.
func Normalize(amount, price *big.Int, decimals uint8) (*big.Int, error) {
	return mulDiv(amount, price, pow10(decimals))
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
