package lending

import (
	"fmt"
	"math/big"
)

// RateModel prices fixed-maturity borrowing. Rates are annual WAD fractions.
type RateModel interface {
	// BorrowRate maps a WAD utilization to an annual WAD rate.
	BorrowRate(utilization *big.Int) (*big.Int, error)
	// PenaltyRatePerDay is the WAD fraction of outstanding debt charged per
	// day past maturity.
	PenaltyRatePerDay() *big.Int
	// SmartPoolRate is the WAD fraction of every borrower fee credited to
	// the smart pool at borrow time.
	SmartPoolRate() *big.Int
}

// CurveModel implements RateModel with the hyperbolic curve
// A / (MaxUtilization - u) + B.
type CurveModel struct {
	// CurveA is the numerator of the hyperbola, WAD scaled.
	CurveA *big.Int
	// CurveB shifts the curve and may be negative.
	CurveB *big.Int
	// MaxUtilization is the asymptote; borrowing at or beyond it fails.
	MaxUtilization *big.Int
	Penalty        *big.Int
	SmartPoolShare *big.Int
}

// DefaultCurveModel returns the production curve: A=0.0495, B=-0.025,
// MaxUtilization=1.1, a 2% daily penalty and a 10% smart pool share.
func DefaultCurveModel() *CurveModel {
	return &CurveModel{
		CurveA:         mustBigInt("49500000000000000"),
		CurveB:         mustBigInt("-25000000000000000"),
		MaxUtilization: mustBigInt("1100000000000000000"),
		Penalty:        mustBigInt("20000000000000000"),
		SmartPoolShare: mustBigInt("100000000000000000"),
	}
}

// Clone returns a deep copy of the curve.
func (m *CurveModel) Clone() *CurveModel {
	if m == nil {
		return nil
	}
	return &CurveModel{
		CurveA:         cloneBig(m.CurveA),
		CurveB:         cloneBig(m.CurveB),
		MaxUtilization: cloneBig(m.MaxUtilization),
		Penalty:        cloneBig(m.Penalty),
		SmartPoolShare: cloneBig(m.SmartPoolShare),
	}
}

// Validate checks that the curve is monotone and its fractions are sane.
func (m *CurveModel) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil rate model", ErrInvalidParameter)
	}
	if !positive(m.CurveA) {
		return fmt.Errorf("%w: curve A must be positive", ErrInvalidParameter)
	}
	if !positive(m.MaxUtilization) || m.MaxUtilization.Cmp(WAD) <= 0 {
		return fmt.Errorf("%w: max utilization must exceed 1", ErrInvalidParameter)
	}
	if m.Penalty == nil || m.Penalty.Sign() < 0 {
		return fmt.Errorf("%w: penalty rate must be non-negative", ErrInvalidParameter)
	}
	if m.SmartPoolShare == nil || m.SmartPoolShare.Sign() < 0 || m.SmartPoolShare.Cmp(WAD) > 0 {
		return fmt.Errorf("%w: smart pool rate must be within [0,1]", ErrInvalidParameter)
	}
	return nil
}

func (m *CurveModel) BorrowRate(utilization *big.Int) (*big.Int, error) {
	u := zeroIfNil(utilization)
	if u.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative utilization", ErrArithmetic)
	}
	if u.Cmp(m.MaxUtilization) >= 0 {
		return nil, ErrUtilizationTooHigh
	}
	gap := new(big.Int).Sub(m.MaxUtilization, u)
	rate := new(big.Int).Mul(zeroIfNil(m.CurveA), WAD)
	rate.Quo(rate, gap)
	rate.Add(rate, zeroIfNil(m.CurveB))
	if rate.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return bounded(rate)
}

func (m *CurveModel) PenaltyRatePerDay() *big.Int { return cloneBig(m.Penalty) }

func (m *CurveModel) SmartPoolRate() *big.Int { return cloneBig(m.SmartPoolShare) }

// Utilization returns borrowed/supply as a WAD fraction. An empty pool has
// zero utilization unless something is borrowed from it.
func Utilization(borrowed, supply *big.Int) (*big.Int, error) {
	if supply == nil || supply.Sign() == 0 {
		if positive(borrowed) {
			return nil, ErrUtilizationTooHigh
		}
		return big.NewInt(0), nil
	}
	return wadDiv(borrowed, supply)
}

// FixedFee is the interest locked in for holding amount from now until the
// maturity at the annual rate: amount * rate * (maturity - now) / 365 days.
func FixedFee(amount, annualRate *big.Int, maturity, now uint64) (*big.Int, error) {
	if maturity <= now {
		return big.NewInt(0), nil
	}
	scaled, err := wadMul(amount, annualRate)
	if err != nil {
		return nil, err
	}
	return mulDiv(scaled, new(big.Int).SetUint64(maturity-now), bigYear)
}

// Penalty is the linear overdue charge on debt: debt * ratePerDay *
// secondsOverdue / 1 day. It is zero until the maturity has passed.
func Penalty(debt, ratePerDay *big.Int, maturity, now uint64) (*big.Int, error) {
	if now <= maturity {
		return big.NewInt(0), nil
	}
	scaled, err := wadMul(debt, ratePerDay)
	if err != nil {
		return nil, err
	}
	return mulDiv(scaled, new(big.Int).SetUint64(now-maturity), bigDay)
}
