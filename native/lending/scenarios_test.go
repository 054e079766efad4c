package lending

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/crypto"
)

func TestScenarioSupplyGivesCollateralFactorLiquidity(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	account := newAccount(t)
	h.supply(dai, account, units(1000, 18))

	liquidity, shortfall := h.liquidity(account)
	require.Equal(t, units(800, 18), liquidity)
	require.Zero(t, shortfall.Sign())
}

func TestScenarioBorrowingEntireLiquidityFailsOnInterest(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	account := newAccount(t)
	h.supply(dai, account, units(1000, 18))

	fee, err := dai.PreviewBorrowFee(h.ctx, firstPool(h), units(800, 18))
	require.NoError(t, err)
	require.True(t, fee.Sign() > 0)

	_, err = dai.BorrowFromMaturityPool(h.ctx, account, firstPool(h), units(800, 18), nil)
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))
}

func TestScenarioOverduePenaltyCreatesShortfall(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, zeroRateModel(t), "0.8")
	account := newAccount(t)
	h.supply(dai, account, units(10000, 18))
	poolID := firstPool(h)

	_, err := dai.BorrowFromMaturityPool(h.ctx, account, poolID, units(7000, 18), nil)
	require.NoError(t, err)

	h.at(poolID + 5*day)
	liquidity, shortfall := h.liquidity(account)
	// debt 7000 * 1.10 against 8000 of collateral
	require.Equal(t, units(300, 18), liquidity)
	require.Zero(t, shortfall.Sign())

	h.at(poolID + 15*day)
	liquidity, shortfall = h.liquidity(account)
	// debt 7000 * 1.30
	require.Zero(t, liquidity.Sign())
	require.Equal(t, units(1100, 18), shortfall)
}

func TestScenarioTransferLimitedByBackedLoan(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, zeroRateModel(t), "0.8")
	supplier, other := newAccount(t), newAccount(t)
	h.supply(dai, supplier, units(1000, 18))

	_, err := dai.BorrowFromMaturityPool(h.ctx, supplier, firstPool(h), units(700, 18), nil)
	require.NoError(t, err)

	err = dai.Transfer(h.ctx, supplier, other, units(1000, 18))
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))

	require.NoError(t, dai.Transfer(h.ctx, supplier, other, units(100, 18)))
	err = dai.Transfer(h.ctx, supplier, other, units(100, 18))
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))
}

func TestScenarioListingTwiceAndForeignAuditor(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	require.True(t, errors.Is(h.auditor.EnableMarket(h.ctx, h.admin, dai, nil, "DAI", "Dai"), ErrMarketAlreadyListed))

	other := newHarness(t)
	foreign := other.list("DAI", 18, nil, "0.8")
	require.True(t, errors.Is(h.auditor.EnableMarket(h.ctx, h.admin, foreign, nil, "DAI", "Dai"), ErrAuditorMismatch))
}

func TestDecimalNormalizationIsScaleInvariant(t *testing.T) {
	h := newHarness(t)
	usdc := h.list("USDC", 6, nil, "0.8")
	dai := h.list("DAI", 18, nil, "0.8")
	wbtc := h.list("WBTC", 8, nil, "0.8")
	a, b, c := newAccount(t), newAccount(t), newAccount(t)

	h.supply(usdc, a, units(1000, 6))
	h.supply(dai, b, units(1000, 18))
	h.supply(wbtc, c, units(1000, 8))

	la, _ := h.liquidity(a)
	lb, _ := h.liquidity(b)
	lc, _ := h.liquidity(c)
	require.Equal(t, units(800, 18), la)
	require.Equal(t, la, lb)
	require.Equal(t, la, lc)
}

func TestFailedBorrowLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	weth := h.list("WETH", 18, nil, "0.8")
	lender, borrower := newAccount(t), newAccount(t)
	_, err := dai.Deposit(h.ctx, lender, units(5000, 18))
	require.NoError(t, err)
	h.supply(weth, borrower, units(1000, 18))
	_, err = dai.BorrowFromMaturityPool(h.ctx, borrower, firstPool(h), units(100, 18), nil)
	require.NoError(t, err)
	h.at(genesis + day)

	before := h.state.Snapshot()
	emitted := len(h.recorder.Events())

	_, err = dai.BorrowFromMaturityPool(h.ctx, borrower, firstPool(h), units(750, 18), nil)
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))
	_, err = weth.Withdraw(h.ctx, borrower, units(900, 18))
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))
	err = h.auditor.ExitMarket(h.ctx, borrower, weth)
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))

	require.Equal(t, before, h.state.Snapshot())
	require.Len(t, h.recorder.Events(), emitted)
}

// TestRandomOperationsPreserveInvariants drives random operations and checks
// that no committed state leaves an account in shortfall before any
// maturity passes and that every maturity pool's borrowing stays covered by
// supply plus smart pool backing.
func TestRandomOperationsPreserveInvariants(t *testing.T) {
	h := newHarness(t)
	dai := h.list("DAI", 18, nil, "0.8")
	usdc := h.list("USDC", 6, nil, "0.9")
	markets := []*Market{dai, usdc}
	accounts := []crypto.Address{newAccount(t), newAccount(t), newAccount(t)}
	pools := h.auditor.Calendar().FuturePools(h.auditor.Now(), 3)
	rng := rand.New(rand.NewSource(7))

	for _, account := range accounts {
		for _, market := range markets {
			h.supply(market, account, units(1000, market.Asset().Decimals))
		}
	}

	for step := 0; step < 300; step++ {
		market := markets[rng.Intn(len(markets))]
		account := accounts[rng.Intn(len(accounts))]
		other := accounts[rng.Intn(len(accounts))]
		poolID := pools[rng.Intn(len(pools))]
		amount := units(int64(rng.Intn(400)+1), market.Asset().Decimals)

		var err error
		switch rng.Intn(6) {
		case 0:
			_, err = market.Deposit(h.ctx, account, amount)
		case 1:
			_, err = market.Withdraw(h.ctx, account, amount)
		case 2:
			err = market.Transfer(h.ctx, account, other, amount)
		case 3:
			_, err = market.DepositToMaturityPool(h.ctx, account, poolID, amount, nil)
		case 4:
			_, err = market.BorrowFromMaturityPool(h.ctx, account, poolID, amount, nil)
		case 5:
			_, err = market.RepayToMaturityPool(h.ctx, account, poolID, amount)
		}
		if err != nil {
			require.Falsef(t, errors.Is(err, ErrArithmetic), "step %d: %v", step, err)
		}

		for _, acct := range accounts {
			_, shortfall := h.liquidity(acct)
			require.Zerof(t, shortfall.Sign(), "step %d: account in shortfall", step)
		}
		for _, m := range markets {
			sp, err := m.SmartPool(h.ctx)
			require.NoError(t, err)
			require.True(t, sp.Lent.Cmp(sp.TotalAssets) <= 0, "step %d: smart pool over-lent", step)
			drawn := big.NewInt(0)
			for _, id := range pools {
				pool, err := m.MaturityPool(h.ctx, id)
				require.NoError(t, err)
				covered := new(big.Int).Add(pool.Supplied, pool.SmartPoolBorrowed)
				require.True(t, pool.Borrowed.Cmp(covered) <= 0, "step %d: pool %d uncovered", step, id)
				drawn.Add(drawn, pool.SmartPoolBorrowed)
			}
			require.Equal(t, 0, drawn.Cmp(sp.Lent), "step %d: draw accounting drifted", step)
		}
	}
}
