package events

import (
	"math/big"

	"fixedlend/crypto"
)

const (
	TypeLendingMarketListed        = "lending.market_listed"
	TypeLendingOracleChanged       = "lending.oracle_changed"
	TypeLendingCollateralFactorSet = "lending.collateral_factor_set"
	TypeLendingMarketEntered       = "lending.market_entered"
	TypeLendingMarketExited        = "lending.market_exited"
	TypeLendingDeposit             = "lending.deposit"
	TypeLendingWithdraw            = "lending.withdraw"
	TypeLendingTransfer            = "lending.transfer"
	TypeLendingDepositAtMaturity   = "lending.deposit_at_maturity"
	TypeLendingWithdrawAtMaturity  = "lending.withdraw_at_maturity"
	TypeLendingBorrow              = "lending.borrow"
	TypeLendingRepay               = "lending.repay"
)

// LendingMarketListed is emitted when governance lists a market.
type LendingMarketListed struct {
	Market           string
	Name             string
	Decimals         uint8
	CollateralFactor *big.Int
}

func (LendingMarketListed) EventType() string { return TypeLendingMarketListed }

func (e LendingMarketListed) Record() *Record {
	return &Record{
		Type: TypeLendingMarketListed,
		Attributes: map[string]string{
			"market":           normalizeAsset(e.Market),
			"name":             e.Name,
			"decimals":         formatUint(uint64(e.Decimals)),
			"collateralFactor": formatAmount(e.CollateralFactor),
		},
	}
}

// LendingOracleChanged records the replacement of the price oracle.
type LendingOracleChanged struct {
	Oracle string
}

func (LendingOracleChanged) EventType() string { return TypeLendingOracleChanged }

func (e LendingOracleChanged) Record() *Record {
	return &Record{Type: TypeLendingOracleChanged, Attributes: map[string]string{"oracle": e.Oracle}}
}

// LendingCollateralFactorSet records a collateral factor update.
type LendingCollateralFactorSet struct {
	Market string
	Factor *big.Int
}

func (LendingCollateralFactorSet) EventType() string { return TypeLendingCollateralFactorSet }

func (e LendingCollateralFactorSet) Record() *Record {
	return &Record{
		Type: TypeLendingCollateralFactorSet,
		Attributes: map[string]string{
			"market": normalizeAsset(e.Market),
			"factor": formatAmount(e.Factor),
		},
	}
}

// LendingMarketEntered is emitted when an account starts counting a market
// towards its liquidity.
type LendingMarketEntered struct {
	Market  string
	Account crypto.Address
}

func (LendingMarketEntered) EventType() string { return TypeLendingMarketEntered }

func (e LendingMarketEntered) Record() *Record {
	return &Record{
		Type: TypeLendingMarketEntered,
		Attributes: map[string]string{
			"market":  normalizeAsset(e.Market),
			"account": formatAddress(e.Account),
		},
	}
}

// LendingMarketExited is emitted when an account stops counting a market.
type LendingMarketExited struct {
	Market  string
	Account crypto.Address
}

func (LendingMarketExited) EventType() string { return TypeLendingMarketExited }

func (e LendingMarketExited) Record() *Record {
	return &Record{
		Type: TypeLendingMarketExited,
		Attributes: map[string]string{
			"market":  normalizeAsset(e.Market),
			"account": formatAddress(e.Account),
		},
	}
}

// LendingDeposit captures a smart pool deposit.
type LendingDeposit struct {
	Market  string
	Account crypto.Address
	Assets  *big.Int
	Shares  *big.Int
}

func (LendingDeposit) EventType() string { return TypeLendingDeposit }

func (e LendingDeposit) Record() *Record {
	return &Record{
		Type: TypeLendingDeposit,
		Attributes: map[string]string{
			"market":  normalizeAsset(e.Market),
			"account": formatAddress(e.Account),
			"assets":  formatAmount(e.Assets),
			"shares":  formatAmount(e.Shares),
		},
	}
}

// LendingWithdraw captures a smart pool withdrawal or redemption.
type LendingWithdraw struct {
	Market  string
	Account crypto.Address
	Assets  *big.Int
	Shares  *big.Int
}

func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

func (e LendingWithdraw) Record() *Record {
	return &Record{
		Type: TypeLendingWithdraw,
		Attributes: map[string]string{
			"market":  normalizeAsset(e.Market),
			"account": formatAddress(e.Account),
			"assets":  formatAmount(e.Assets),
			"shares":  formatAmount(e.Shares),
		},
	}
}

// LendingTransfer captures a smart pool share transfer.
type LendingTransfer struct {
	Market string
	From   crypto.Address
	To     crypto.Address
	Shares *big.Int
}

func (LendingTransfer) EventType() string { return TypeLendingTransfer }

func (e LendingTransfer) Record() *Record {
	return &Record{
		Type: TypeLendingTransfer,
		Attributes: map[string]string{
			"market": normalizeAsset(e.Market),
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"shares": formatAmount(e.Shares),
		},
	}
}

// LendingDepositAtMaturity captures a fixed-rate supply.
type LendingDepositAtMaturity struct {
	Market   string
	Account  crypto.Address
	Maturity uint64
	Assets   *big.Int
	Fee      *big.Int
}

func (LendingDepositAtMaturity) EventType() string { return TypeLendingDepositAtMaturity }

func (e LendingDepositAtMaturity) Record() *Record {
	return &Record{
		Type: TypeLendingDepositAtMaturity,
		Attributes: map[string]string{
			"market":   normalizeAsset(e.Market),
			"account":  formatAddress(e.Account),
			"maturity": formatUint(e.Maturity),
			"assets":   formatAmount(e.Assets),
			"fee":      formatAmount(e.Fee),
		},
	}
}

// LendingWithdrawAtMaturity captures a matured supply withdrawal.
type LendingWithdrawAtMaturity struct {
	Market   string
	Account  crypto.Address
	Receiver crypto.Address
	Maturity uint64
	Assets   *big.Int
}

func (LendingWithdrawAtMaturity) EventType() string { return TypeLendingWithdrawAtMaturity }

func (e LendingWithdrawAtMaturity) Record() *Record {
	return &Record{
		Type: TypeLendingWithdrawAtMaturity,
		Attributes: map[string]string{
			"market":   normalizeAsset(e.Market),
			"account":  formatAddress(e.Account),
			"receiver": formatAddress(e.Receiver),
			"maturity": formatUint(e.Maturity),
			"assets":   formatAmount(e.Assets),
		},
	}
}

// LendingBorrow captures a fixed-rate borrow.
type LendingBorrow struct {
	Market   string
	Account  crypto.Address
	Maturity uint64
	Assets   *big.Int
	Fee      *big.Int
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Record() *Record {
	return &Record{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"market":   normalizeAsset(e.Market),
			"account":  formatAddress(e.Account),
			"maturity": formatUint(e.Maturity),
			"assets":   formatAmount(e.Assets),
			"fee":      formatAmount(e.Fee),
		},
	}
}

// LendingRepay captures a maturity debt repayment. DebtCovered is the
// principal and fee retired; Penalty is the overdue charge paid on top.
type LendingRepay struct {
	Market      string
	Account     crypto.Address
	Maturity    uint64
	Assets      *big.Int
	DebtCovered *big.Int
	Penalty     *big.Int
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Record() *Record {
	return &Record{
		Type: TypeLendingRepay,
		Attributes: map[string]string{
			"market":      normalizeAsset(e.Market),
			"account":     formatAddress(e.Account),
			"maturity":    formatUint(e.Maturity),
			"assets":      formatAmount(e.Assets),
			"debtCovered": formatAmount(e.DebtCovered),
			"penalty":     formatAmount(e.Penalty),
		},
	}
}
