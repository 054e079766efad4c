package lending

import (
	"errors"

	nativecommon "fixedlend/native/common"
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("lending: caller not authorized")
)

// Configuration and state errors signal caller or deployment misuse.
var (
	ErrMarketAlreadyListed = errors.New("lending: market already listed")
	ErrAuditorMismatch     = errors.New("lending: market bound to a different auditor")
	ErrMarketNotListed     = errors.New("lending: market not listed")
	ErrInvalidMaturity     = errors.New("lending: invalid maturity")
	ErrInvalidAmount       = errors.New("lending: amount must be positive")
	ErrInvalidParameter    = errors.New("lending: invalid parameter")
	ErrNilState            = errors.New("lending: state not configured")
	ErrNilOracle           = errors.New("lending: price oracle not configured")
	ErrReentrantCall       = errors.New("lending: re-entrant call rejected")
)

// Economic errors are recoverable by retrying with different parameters.
var (
	ErrInsufficientLiquidity         = errors.New("lending: insufficient liquidity")
	ErrInsufficientProtocolLiquidity = errors.New("lending: insufficient protocol liquidity")
	ErrInsufficientShares            = errors.New("lending: insufficient shares")
	ErrInsufficientBalance           = errors.New("lending: insufficient balance")
	ErrTooMuchSlippage               = errors.New("lending: too much slippage")
	ErrDebtExceeded                  = errors.New("lending: repayment exceeds outstanding debt")
	ErrMaturityNotReached            = errors.New("lending: maturity not reached")
	ErrUtilizationTooHigh            = errors.New("lending: utilization too high")
	ErrModulePaused                  = nativecommon.ErrModulePaused
)

// ErrArithmetic reports a fixed-point overflow, underflow or zero divisor.
var ErrArithmetic = errors.New("lending: arithmetic fault")

var economicErrors = []error{
	ErrInsufficientLiquidity,
	ErrInsufficientProtocolLiquidity,
	ErrInsufficientShares,
	ErrInsufficientBalance,
	ErrTooMuchSlippage,
	ErrDebtExceeded,
	ErrMaturityNotReached,
	ErrUtilizationTooHigh,
	ErrModulePaused,
}

// IsEconomic reports whether err is an expected economic rejection that the
// caller may retry with different parameters.
func IsEconomic(err error) bool {
	for _, target := range economicErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConfiguration reports whether err signals caller or deployment misuse.
func IsConfiguration(err error) bool {
	switch {
	case errors.Is(err, ErrMarketAlreadyListed),
		errors.Is(err, ErrAuditorMismatch),
		errors.Is(err, ErrMarketNotListed),
		errors.Is(err, ErrInvalidMaturity),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrReentrantCall):
		return true
	default:
		return false
	}
}
