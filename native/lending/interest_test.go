package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurveModelDefaults(t *testing.T) {
	model := DefaultCurveModel()
	require.NoError(t, model.Validate())

	rate, err := model.BorrowRate(big.NewInt(0))
	require.NoError(t, err)
	// 0.0495 / 1.1 - 0.025
	require.Equal(t, wad(t, "0.02"), rate)

	rate, err = model.BorrowRate(wad(t, "0.8"))
	require.NoError(t, err)
	// 0.0495 / 0.3 - 0.025
	require.Equal(t, wad(t, "0.14"), rate)

	require.Equal(t, wad(t, "0.02"), model.PenaltyRatePerDay())
	require.Equal(t, wad(t, "0.1"), model.SmartPoolRate())
}

func TestCurveModelIsMonotone(t *testing.T) {
	model := DefaultCurveModel()
	prev := big.NewInt(-1)
	for _, u := range []string{"0", "0.1", "0.25", "0.5", "0.75", "0.9", "1", "1.05", "1.09"} {
		rate, err := model.BorrowRate(wad(t, u))
		require.NoError(t, err)
		require.True(t, rate.Cmp(prev) > 0, "rate at %s not above previous", u)
		prev = rate
	}
}

func TestCurveModelUtilizationCap(t *testing.T) {
	model := DefaultCurveModel()
	_, err := model.BorrowRate(wad(t, "1.1"))
	require.True(t, errors.Is(err, ErrUtilizationTooHigh))
	_, err = model.BorrowRate(wad(t, "2"))
	require.True(t, errors.Is(err, ErrUtilizationTooHigh))
}

func TestCurveModelClampsNegativeRates(t *testing.T) {
	model := DefaultCurveModel()
	model.CurveB = wad(t, "-1")
	rate, err := model.BorrowRate(big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, rate.Sign())
}

func TestCurveModelValidate(t *testing.T) {
	model := DefaultCurveModel()
	model.MaxUtilization = wad(t, "0.9")
	require.True(t, errors.Is(model.Validate(), ErrInvalidParameter))

	model = DefaultCurveModel()
	model.SmartPoolShare = wad(t, "1.5")
	require.True(t, errors.Is(model.Validate(), ErrInvalidParameter))

	clone := DefaultCurveModel().Clone()
	clone.CurveA.SetInt64(1)
	require.Equal(t, mustBigInt("49500000000000000"), DefaultCurveModel().CurveA)
}

func TestFixedFee(t *testing.T) {
	fee, err := FixedFee(units(365, 18), wad(t, "0.1"), genesis+7*day, genesis)
	require.NoError(t, err)
	require.Equal(t, wad(t, "0.7"), fee)

	fee, err = FixedFee(units(365, 18), wad(t, "0.1"), genesis, genesis+day)
	require.NoError(t, err)
	require.Zero(t, fee.Sign())
}

func TestPenaltyIsMonotone(t *testing.T) {
	debt := units(7000, 18)
	rate := wad(t, "0.02")
	maturity := genesis

	before, err := Penalty(debt, rate, maturity, maturity)
	require.NoError(t, err)
	require.Zero(t, before.Sign())

	five, err := Penalty(debt, rate, maturity, maturity+5*day)
	require.NoError(t, err)
	require.Equal(t, units(700, 18), five)

	prev := big.NewInt(0)
	for overdue := uint64(0); overdue <= 30*day; overdue += day / 4 {
		penalty, err := Penalty(debt, rate, maturity, maturity+overdue)
		require.NoError(t, err)
		require.True(t, penalty.Cmp(prev) >= 0)
		prev = penalty
	}
}

func TestUtilization(t *testing.T) {
	u, err := Utilization(big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, u.Sign())

	_, err = Utilization(big.NewInt(1), big.NewInt(0))
	require.True(t, errors.Is(err, ErrUtilizationTooHigh))

	u, err = Utilization(big.NewInt(80), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, wad(t, "0.8"), u)
}
