package lending

import "fmt"

const (
	// DefaultMaturityInterval spaces maturities one week apart.
	DefaultMaturityInterval uint64 = 7 * secondsPerDay
	// DefaultMaxFuturePools bounds how far ahead positions may be opened.
	DefaultMaxFuturePools uint64 = 12
)

// Calendar maps timestamps onto the grid of maturity pool identifiers. A pool
// identifier is the unix timestamp of its maturity, aligned to Interval.
type Calendar struct {
	Interval       uint64
	MaxFuturePools uint64
}

// DefaultCalendar returns a weekly calendar with twelve open maturities.
func DefaultCalendar() Calendar {
	return Calendar{Interval: DefaultMaturityInterval, MaxFuturePools: DefaultMaxFuturePools}
}

func (c Calendar) normalized() Calendar {
	if c.Interval == 0 {
		c.Interval = DefaultMaturityInterval
	}
	if c.MaxFuturePools == 0 {
		c.MaxFuturePools = DefaultMaxFuturePools
	}
	return c
}

// PoolID returns the maturity closing the period ts belongs to.
func (c Calendar) PoolID(ts uint64) uint64 {
	c = c.normalized()
	return ts - ts%c.Interval + c.Interval
}

// OnGrid reports whether poolID is a maturity of this calendar.
func (c Calendar) OnGrid(poolID uint64) bool {
	c = c.normalized()
	return poolID != 0 && poolID%c.Interval == 0
}

func (c Calendar) horizon(now uint64) uint64 {
	c = c.normalized()
	return c.PoolID(now) + (c.MaxFuturePools-1)*c.Interval
}

// ValidateFuturePool accepts maturities that are on the grid, strictly in the
// future and within the open horizon.
func (c Calendar) ValidateFuturePool(poolID, now uint64) error {
	if !c.OnGrid(poolID) {
		return fmt.Errorf("%w: %d is not on the maturity grid", ErrInvalidMaturity, poolID)
	}
	if poolID <= now {
		return fmt.Errorf("%w: %d already matured", ErrInvalidMaturity, poolID)
	}
	if poolID > c.horizon(now) {
		return fmt.Errorf("%w: %d beyond the open horizon", ErrInvalidMaturity, poolID)
	}
	return nil
}

// ValidateSettlementPool accepts any grid maturity up to the open horizon,
// including matured ones, for repaying or withdrawing open positions.
func (c Calendar) ValidateSettlementPool(poolID, now uint64) error {
	if !c.OnGrid(poolID) {
		return fmt.Errorf("%w: %d is not on the maturity grid", ErrInvalidMaturity, poolID)
	}
	if poolID > c.horizon(now) {
		return fmt.Errorf("%w: %d beyond the open horizon", ErrInvalidMaturity, poolID)
	}
	return nil
}

// FuturePools lists the next n open maturities after now.
func (c Calendar) FuturePools(now uint64, n int) []uint64 {
	c = c.normalized()
	if n <= 0 {
		return nil
	}
	if uint64(n) > c.MaxFuturePools {
		n = int(c.MaxFuturePools)
	}
	out := make([]uint64, 0, n)
	next := c.PoolID(now)
	for i := 0; i < n; i++ {
		out = append(out, next+uint64(i)*c.Interval)
	}
	return out
}
