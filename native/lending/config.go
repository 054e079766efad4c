package lending

import (
	"fmt"
	"math/big"
)

// DefaultCollateralFactor applies when a market is listed without an
// explicit factor.
var DefaultCollateralFactor = mustBigInt("800000000000000000")

// Config captures the engine-wide tunables shared by every market.
type Config struct {
	Calendar Calendar
	// MaxSmartPoolDraw is the WAD fraction of the smart pool's idle assets
	// a maturity pool may borrow when its own supply is exhausted.
	MaxSmartPoolDraw *big.Int
}

// DefaultConfig returns weekly maturities with the whole idle smart pool
// available as backing.
func DefaultConfig() Config {
	return Config{Calendar: DefaultCalendar(), MaxSmartPoolDraw: new(big.Int).Set(WAD)}
}

// EnsureDefaults populates zero fields with their defaults.
func (c *Config) EnsureDefaults() {
	c.Calendar = c.Calendar.normalized()
	if c.MaxSmartPoolDraw == nil {
		c.MaxSmartPoolDraw = new(big.Int).Set(WAD)
	}
}

// Validate rejects out-of-range parameters.
func (c Config) Validate() error {
	if c.MaxSmartPoolDraw != nil && (c.MaxSmartPoolDraw.Sign() < 0 || c.MaxSmartPoolDraw.Cmp(WAD) > 0) {
		return fmt.Errorf("%w: max smart pool draw must be within [0,1]", ErrInvalidParameter)
	}
	return nil
}

// ValidateCollateralFactor checks that factor is a WAD fraction within [0,1].
func ValidateCollateralFactor(factor *big.Int) error {
	if factor == nil || factor.Sign() < 0 || factor.Cmp(WAD) > 0 {
		return fmt.Errorf("%w: collateral factor must be within [0,1]", ErrInvalidParameter)
	}
	return nil
}
