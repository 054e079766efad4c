package lending

import (
	"context"
	"fmt"
	"math/big"

	"fixedlend/crypto"
)

// PriceOracle supplies the 18-decimal USD price of one whole unit of an
// asset.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (*big.Int, error)
}

// Named oracles report a stable identifier in OracleChanged events.
type Named interface {
	Name() string
}

func oracleName(oracle PriceOracle) string {
	if named, ok := oracle.(Named); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", oracle)
}

// Privileged actions gated by the Authorizer.
const (
	ActionEnableMarket        = "lending.enable_market"
	ActionSetOracle           = "lending.set_oracle"
	ActionSetCollateralFactor = "lending.set_collateral_factor"
	ActionPause               = "lending.pause"
)

// Authorizer decides whether caller may perform a privileged action.
type Authorizer interface {
	Authorized(caller crypto.Address, action string) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(caller crypto.Address, action string) bool

func (f AuthorizerFunc) Authorized(caller crypto.Address, action string) bool {
	return f(caller, action)
}
