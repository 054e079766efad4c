package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/core/events"
	"fixedlend/crypto"
)

func TestEnableMarketRejectsDuplicatesAndForeignAuditors(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")

	err := h.auditor.EnableMarket(h.ctx, h.admin, dai, nil, "DAI", "Dai")
	require.True(t, errors.Is(err, ErrMarketAlreadyListed))

	other := newHarness(t)
	foreign, err := NewMarket(other.auditor, Asset{Symbol: "WETH", Decimals: 18}, nil)
	require.NoError(t, err)
	err = h.auditor.EnableMarket(h.ctx, h.admin, foreign, nil, "WETH", "Wrapped Ether")
	require.True(t, errors.Is(err, ErrAuditorMismatch))

	require.Len(t, h.auditor.Markets(), 1)
	require.Len(t, h.recorder.OfType(events.TypeLendingMarketListed), 1)
}

func TestEnableMarketRequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	market, err := NewMarket(h.auditor, Asset{Symbol: "usdc", Decimals: 6}, nil)
	require.NoError(t, err)
	require.Equal(t, "USDC", market.Symbol())

	err = h.auditor.EnableMarket(h.ctx, newAccount(t), market, nil, "", "")
	require.True(t, errors.Is(err, ErrUnauthorized))
	_, err = h.auditor.Market("USDC")
	require.True(t, errors.Is(err, ErrMarketNotListed))

	require.NoError(t, h.auditor.EnableMarket(h.ctx, h.admin, market, nil, "", "USD Coin"))
	factor, err := h.auditor.CollateralFactor("USDC")
	require.NoError(t, err)
	require.Equal(t, DefaultCollateralFactor, factor)
	require.Equal(t, "USD Coin", market.Asset().Name)

	listed := h.recorder.OfType(events.TypeLendingMarketListed)
	require.Len(t, listed, 1)
	require.Equal(t, uint8(6), listed[0].(events.LendingMarketListed).Decimals)
}

func TestEnableMarketValidatesFactor(t *testing.T) {
	h := newHarness(t)
	market, err := NewMarket(h.auditor, Asset{Symbol: "DAI", Decimals: 18}, nil)
	require.NoError(t, err)
	err = h.auditor.EnableMarket(h.ctx, h.admin, market, wad(t, "1.01"), "DAI", "Dai")
	require.True(t, errors.Is(err, ErrInvalidParameter))
	require.Empty(t, h.auditor.Markets())
}

func TestSetOracleEmitsEvent(t *testing.T) {
	h := newHarness(t)
	changed := h.recorder.OfType(events.TypeLendingOracleChanged)
	require.Len(t, changed, 1)
	require.Equal(t, "test", changed[0].(events.LendingOracleChanged).Oracle)

	err := h.auditor.SetOracle(h.ctx, newAccount(t), &testOracle{})
	require.True(t, errors.Is(err, ErrUnauthorized))
	require.Len(t, h.recorder.OfType(events.TypeLendingOracleChanged), 1)
}

func TestSetCollateralFactorChangesLiquidity(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	account := newAccount(t)
	h.supply(dai, account, units(1000, 18))

	liquidity, _ := h.liquidity(account)
	require.Equal(t, units(800, 18), liquidity)

	require.NoError(t, h.auditor.SetCollateralFactor(h.ctx, h.admin, "DAI", wad(t, "0.5")))
	liquidity, _ = h.liquidity(account)
	require.Equal(t, units(500, 18), liquidity)

	err := h.auditor.SetCollateralFactor(h.ctx, h.admin, "WBTC", wad(t, "0.6"))
	require.True(t, errors.Is(err, ErrMarketNotListed))
	require.Len(t, h.recorder.OfType(events.TypeLendingCollateralFactorSet), 1)
}

func TestEnterAndExitMarkets(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, zeroRateModel(t), "0.8")
	weth := h.list("WETH", 18, zeroRateModel(t), "0.8")
	account := newAccount(t)

	_, err := dai.Deposit(h.ctx, account, units(1000, 18))
	require.NoError(t, err)
	liquidity, _ := h.liquidity(account)
	require.Zero(t, liquidity.Sign(), "deposits count only once the market is entered")

	err = h.auditor.EnterMarkets(h.ctx, account, genesis+1, dai)
	require.True(t, errors.Is(err, ErrInvalidMaturity))

	require.NoError(t, h.auditor.EnterMarkets(h.ctx, account, firstPool(h), dai, weth))
	require.NoError(t, h.auditor.EnterMarkets(h.ctx, account, 0, dai))
	entered, err := h.auditor.EnteredMarkets(h.ctx, account)
	require.NoError(t, err)
	require.Equal(t, []string{"DAI", "WETH"}, entered)
	require.Len(t, h.recorder.OfType(events.TypeLendingMarketEntered), 2)

	require.NoError(t, h.auditor.ExitMarket(h.ctx, account, weth))
	entered, err = h.auditor.EnteredMarkets(h.ctx, account)
	require.NoError(t, err)
	require.Equal(t, []string{"DAI"}, entered)
	require.Len(t, h.recorder.OfType(events.TypeLendingMarketExited), 1)
}

func TestExitMarketBlockedByDebtAndShortfall(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, zeroRateModel(t), "0.8")
	weth := h.list("WETH", 18, zeroRateModel(t), "0.8")
	lender := newAccount(t)
	borrower := newAccount(t)
	h.supply(weth, lender, units(1000, 18))
	h.supply(dai, borrower, units(1000, 18))

	_, err := weth.BorrowFromMaturityPool(h.ctx, borrower, firstPool(h), units(500, 18), nil)
	require.NoError(t, err)

	err = h.auditor.ExitMarket(h.ctx, borrower, weth)
	require.True(t, errors.Is(err, ErrInsufficientLiquidity), "debt outstanding in WETH")

	err = h.auditor.ExitMarket(h.ctx, borrower, dai)
	require.True(t, errors.Is(err, ErrInsufficientLiquidity), "DAI backs the WETH loan")

	entered, err := h.auditor.EnteredMarkets(h.ctx, borrower)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"DAI", "WETH"}, entered)
	require.Empty(t, h.recorder.OfType(events.TypeLendingMarketExited))
}

func TestAccountLiquiditySumsAcrossMarkets(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	wbtc := h.list("WBTC", 8, nil, "0.6")
	h.oracle.set("WBTC", units(60000, 18))
	account := newAccount(t)

	h.supply(dai, account, units(1000, 18))
	h.supply(wbtc, account, units(1, 8))

	liquidity, shortfall := h.liquidity(account)
	// 1000 * 0.8 + 60000 * 0.6
	require.Equal(t, units(36800, 18), liquidity)
	require.Zero(t, shortfall.Sign())

	collateral, debt, err := wbtc.AccountLiquidityShare(h.ctx, account, 0, units(60000, 18))
	require.NoError(t, err)
	require.Equal(t, units(36000, 18), collateral)
	require.Zero(t, debt.Sign())
}

func TestReentrantOracleIsRejected(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	account := newAccount(t)
	h.supply(dai, account, units(100, 18))

	h.oracle.hook = func(ctx context.Context) error {
		_, _, err := h.auditor.AccountLiquidity(ctx, account, 0)
		return err
	}
	_, _, err := h.auditor.AccountLiquidity(h.ctx, account, 0)
	require.True(t, errors.Is(err, ErrReentrantCall))

	h.oracle.hook = func(ctx context.Context) error {
		_, err := dai.Deposit(ctx, account, big.NewInt(1))
		return err
	}
	_, err = dai.Withdraw(h.ctx, account, units(1, 18))
	require.True(t, errors.Is(err, ErrReentrantCall))

	h.oracle.hook = nil
	shares, err := dai.BalanceOf(h.ctx, account)
	require.NoError(t, err)
	require.Equal(t, units(100, 18), shares)
}

func TestPauseHaltsOperations(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	account := newAccount(t)

	err := h.auditor.SetPaused(h.ctx, account, ModuleName+".deposit", true)
	require.True(t, errors.Is(err, ErrUnauthorized))

	require.NoError(t, h.auditor.SetPaused(h.ctx, h.admin, ModuleName+".deposit", true))
	_, err = dai.Deposit(h.ctx, account, units(1, 18))
	require.True(t, errors.Is(err, ErrModulePaused))
	require.True(t, IsEconomic(err))

	require.NoError(t, h.auditor.SetPaused(h.ctx, h.admin, ModuleName+".deposit", false))
	require.NoError(t, h.auditor.SetPaused(h.ctx, h.admin, ModuleName, true))
	_, err = dai.Deposit(h.ctx, account, units(1, 18))
	require.True(t, errors.Is(err, ErrModulePaused))
	require.Equal(t, []string{ModuleName}, h.auditor.Paused())
}

func TestRegistrySurvivesRestart(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, DefaultCurveModel(), "0.8")
	weth := h.list("WETH", 18, DefaultCurveModel(), "0.75")
	h.list("USDT", 6, tenPercentModel(t), "0.9")

	lender, account := newAccount(t), newAccount(t)
	_, err := dai.Deposit(h.ctx, lender, units(1000, 18))
	require.NoError(t, err)
	h.supply(weth, account, units(10, 18))
	require.NoError(t, h.auditor.SetCollateralFactor(h.ctx, h.admin, "WETH", wad(t, "0.7")))
	require.NoError(t, h.auditor.SetPaused(h.ctx, h.admin, ModuleName+".deposit", true))

	authorizer := AuthorizerFunc(func(caller crypto.Address, _ string) bool { return caller.Equal(h.admin) })
	restarted, err := NewAuditor(h.state, authorizer, DefaultConfig())
	require.NoError(t, err)
	restarted.SetBlockTime(genesis)
	require.NoError(t, restarted.SetOracle(h.ctx, h.admin, h.oracle))

	var symbols []string
	for _, m := range restarted.Markets() {
		symbols = append(symbols, m.Symbol())
	}
	require.Equal(t, []string{"DAI", "WETH", "USDT"}, symbols)
	factor, err := restarted.CollateralFactor("WETH")
	require.NoError(t, err)
	require.Equal(t, wad(t, "0.7"), factor)
	require.Equal(t, []string{ModuleName + ".deposit"}, restarted.Paused())

	usdt, err := restarted.Market("USDT")
	require.NoError(t, err)
	require.Equal(t, uint8(6), usdt.Asset().Decimals)
	_, isCurve := usdt.RateModel().(*CurveModel)
	require.True(t, isCurve)

	liquidity, shortfall, err := restarted.AccountLiquidity(h.ctx, account, 0)
	require.NoError(t, err)
	require.Equal(t, units(7, 18), liquidity)
	require.Zero(t, shortfall.Sign())

	restartedDAI, err := restarted.Market("DAI")
	require.NoError(t, err)
	_, err = restartedDAI.BorrowFromMaturityPool(h.ctx, account, restarted.Calendar().PoolID(genesis), units(5, 18), nil)
	require.NoError(t, err)

	_, err = restartedDAI.Deposit(h.ctx, lender, units(1, 18))
	require.True(t, errors.Is(err, ErrModulePaused))
}

func TestEnableMarketNameIsVisibleAfterCommit(t *testing.T) {
	h := newHarness(t)
	market, err := NewMarket(h.auditor, Asset{Symbol: "dai", Decimals: 18}, nil)
	require.NoError(t, err)

	err = h.auditor.EnableMarket(h.ctx, newAccount(t), market, nil, "DAI", "Dai Stablecoin")
	require.True(t, errors.Is(err, ErrUnauthorized))
	require.Empty(t, market.Asset().Name)

	require.NoError(t, h.auditor.EnableMarket(h.ctx, h.admin, market, nil, "DAI", "Dai Stablecoin"))
	require.Equal(t, "Dai Stablecoin", market.Asset().Name)

	listings, err := h.state.Listings()
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "Dai Stablecoin", listings[0].Asset.Name)
	require.Equal(t, DefaultCollateralFactor, listings[0].CollateralFactor)
}
