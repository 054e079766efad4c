package lending

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"fixedlend/core/events"
	"fixedlend/crypto"
)

const maxDecimals = 36

// Market is the ledger of one asset: a share-based smart pool plus one
// fixed-rate maturity pool per calendar maturity. Every operation runs as an
// atomic request serialized by the market's Auditor.
type Market struct {
	auditor *Auditor
	model   RateModel

	mu    sync.RWMutex
	asset Asset
}

// NewMarket binds a market for asset to auditor. The market must still be
// listed through Auditor.EnableMarket before it accepts operations.
func NewMarket(auditor *Auditor, asset Asset, model RateModel) (*Market, error) {
	if auditor == nil {
		return nil, fmt.Errorf("%w: auditor required", ErrInvalidParameter)
	}
	asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
	if asset.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidParameter)
	}
	if asset.Decimals > maxDecimals {
		return nil, fmt.Errorf("%w: decimals above %d", ErrInvalidParameter, maxDecimals)
	}
	if model == nil {
		model = DefaultCurveModel()
	}
	if curve, ok := model.(*CurveModel); ok {
		if err := curve.Validate(); err != nil {
			return nil, err
		}
	}
	return &Market{auditor: auditor, asset: asset, model: model}, nil
}

func (m *Market) Symbol() string { return m.asset.Symbol }

// Asset returns the asset metadata of the market.
func (m *Market) Asset() Asset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.asset
}

func (m *Market) setName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asset.Name = name
}

func (m *Market) RateModel() RateModel { return m.model }

func (m *Market) Auditor() *Auditor { return m.auditor }

func (m *Market) requireListed() error {
	_, err := m.auditor.lookup(m.Symbol())
	return err
}

func (m *Market) loadSmartPool(req *request) (*SmartPool, error) {
	pool, err := req.state.SmartPool(m.Symbol())
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &SmartPool{}
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (m *Market) loadMaturityPool(req *request, poolID uint64) (*MaturityPool, error) {
	pool, err := req.state.MaturityPool(m.Symbol(), poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &MaturityPool{PoolID: poolID}
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (m *Market) loadLedger(req *request, account crypto.Address) (*AccountLedger, error) {
	ledger, err := req.state.AccountLedger(m.Symbol(), account)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = &AccountLedger{}
	}
	ledger.EnsureDefaults()
	return ledger, nil
}

// accruedSmartPool loads the smart pool after releasing the earnings every
// tracked maturity pool owes it up to the request time.
func (m *Market) accruedSmartPool(req *request) (*SmartPool, error) {
	sp, err := m.loadSmartPool(req)
	if err != nil {
		return nil, err
	}
	for _, poolID := range append([]uint64(nil), sp.Maturities...) {
		pool, err := m.loadMaturityPool(req, poolID)
		if err != nil {
			return nil, err
		}
		if err := m.accrueEarnings(req.now, sp, pool); err != nil {
			return nil, err
		}
		if err := req.state.PutMaturityPool(m.Symbol(), pool); err != nil {
			return nil, err
		}
	}
	if err := req.state.PutSmartPool(m.Symbol(), sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// accrueEarnings releases the pool's unassigned earnings to the smart pool
// linearly until maturity.
func (m *Market) accrueEarnings(now uint64, sp *SmartPool, pool *MaturityPool) error {
	if pool.LastAccrual == 0 {
		pool.LastAccrual = now
		return nil
	}
	if now <= pool.LastAccrual {
		return nil
	}
	if !positive(pool.UnassignedEarnings) || sp.TotalShares.Sign() == 0 {
		pool.LastAccrual = now
		return nil
	}
	released := new(big.Int).Set(pool.UnassignedEarnings)
	if now < pool.PoolID {
		var err error
		released, err = mulDiv(pool.UnassignedEarnings,
			new(big.Int).SetUint64(now-pool.LastAccrual),
			new(big.Int).SetUint64(pool.PoolID-pool.LastAccrual))
		if err != nil {
			return err
		}
	}
	pool.UnassignedEarnings.Sub(pool.UnassignedEarnings, released)
	sp.TotalAssets.Add(sp.TotalAssets, released)
	pool.LastAccrual = now
	if pool.UnassignedEarnings.Sign() == 0 {
		sp.untrackMaturity(pool.PoolID)
	}
	return nil
}

// creditSmartPool adds amount to the smart pool. With no shareholders the
// amount is parked in the maturity pool's earnings instead, so an empty
// smart pool never holds assets.
func (m *Market) creditSmartPool(sp *SmartPool, pool *MaturityPool, amount *big.Int) {
	if !positive(amount) {
		return
	}
	if sp.TotalShares.Sign() == 0 {
		pool.UnassignedEarnings.Add(pool.UnassignedEarnings, amount)
		sp.trackMaturity(pool.PoolID)
		return
	}
	sp.TotalAssets.Add(sp.TotalAssets, amount)
}

func convertToShares(sp *SmartPool, assets *big.Int) (*big.Int, error) {
	if sp.TotalShares.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	return mulDiv(assets, sp.TotalShares, sp.TotalAssets)
}

func convertToAssets(sp *SmartPool, shares *big.Int) (*big.Int, error) {
	if sp.TotalShares.Sign() == 0 {
		return new(big.Int).Set(shares), nil
	}
	return mulDiv(shares, sp.TotalAssets, sp.TotalShares)
}

// Deposit supplies assets to the smart pool and mints shares at the current
// exchange rate.
func (m *Market) Deposit(ctx context.Context, account crypto.Address, assets *big.Int) (*big.Int, error) {
	var minted *big.Int
	err := m.auditor.execute(ctx, "deposit", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("deposit"); err != nil {
			return err
		}
		if !positive(assets) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		shares, err := convertToShares(sp, assets)
		if err != nil {
			return err
		}
		if shares.Sign() == 0 {
			return fmt.Errorf("%w: deposit mints no shares", ErrInvalidAmount)
		}
		if sp.TotalAssets, err = checkedAdd(sp.TotalAssets, assets); err != nil {
			return err
		}
		if sp.TotalShares, err = checkedAdd(sp.TotalShares, shares); err != nil {
			return err
		}
		ledger, err := m.loadLedger(req, account)
		if err != nil {
			return err
		}
		ledger.Shares.Add(ledger.Shares, shares)
		if err := m.store(req, sp, nil, account, ledger); err != nil {
			return err
		}
		req.emit(events.LendingDeposit{Market: m.Symbol(), Account: account, Assets: new(big.Int).Set(assets), Shares: new(big.Int).Set(shares)})
		minted = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw removes assets from the smart pool, burning the shares they are
// worth rounded up. It returns the shares burned.
func (m *Market) Withdraw(ctx context.Context, account crypto.Address, assets *big.Int) (*big.Int, error) {
	var burned *big.Int
	err := m.auditor.execute(ctx, "withdraw", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("withdraw"); err != nil {
			return err
		}
		if !positive(assets) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		if sp.TotalShares.Sign() == 0 {
			return ErrInsufficientShares
		}
		shares, err := mulDivUp(assets, sp.TotalShares, sp.TotalAssets)
		if err != nil {
			return err
		}
		if err := m.release(req, "withdraw", sp, account, shares, new(big.Int).Set(assets)); err != nil {
			return err
		}
		burned = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// Redeem burns shares from the smart pool and returns the assets paid out.
func (m *Market) Redeem(ctx context.Context, account crypto.Address, shares *big.Int) (*big.Int, error) {
	var paid *big.Int
	err := m.auditor.execute(ctx, "redeem", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("redeem"); err != nil {
			return err
		}
		if !positive(shares) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		if sp.TotalShares.Cmp(shares) < 0 {
			return ErrInsufficientShares
		}
		assets, err := convertToAssets(sp, shares)
		if err != nil {
			return err
		}
		if assets.Sign() == 0 {
			return fmt.Errorf("%w: redemption pays no assets", ErrInvalidAmount)
		}
		if err := m.release(req, "redeem", sp, account, new(big.Int).Set(shares), assets); err != nil {
			return err
		}
		paid = assets
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// release burns shares for assets and checks the account stays solvent.
func (m *Market) release(req *request, check string, sp *SmartPool, account crypto.Address, shares, assets *big.Int) error {
	ledger, err := m.loadLedger(req, account)
	if err != nil {
		return err
	}
	if ledger.Shares.Cmp(shares) < 0 {
		return fmt.Errorf("%w: burning %s of %s", ErrInsufficientShares, shares, ledger.Shares)
	}
	if assets.Cmp(sp.Idle()) > 0 {
		return fmt.Errorf("%w: %s idle in %s", ErrInsufficientProtocolLiquidity, sp.Idle(), m.Symbol())
	}
	if shares.Cmp(sp.TotalShares) == 0 {
		// The last shares carry every remaining asset.
		if sp.Lent.Sign() > 0 {
			return fmt.Errorf("%w: smart pool assets are lent", ErrInsufficientProtocolLiquidity)
		}
		assets = new(big.Int).Set(sp.TotalAssets)
	}
	sp.TotalShares.Sub(sp.TotalShares, shares)
	if sp.TotalAssets, err = checkedSub(sp.TotalAssets, assets); err != nil {
		return err
	}
	ledger.Shares.Sub(ledger.Shares, shares)
	if err := m.store(req, sp, nil, account, ledger); err != nil {
		return err
	}
	if err := m.auditor.authorizeRelease(req, check, m, account); err != nil {
		return err
	}
	req.emit(events.LendingWithdraw{Market: m.Symbol(), Account: account, Assets: new(big.Int).Set(assets), Shares: new(big.Int).Set(shares)})
	return nil
}

// Transfer moves smart pool shares between accounts. The sender must remain
// collateralized afterwards.
func (m *Market) Transfer(ctx context.Context, from, to crypto.Address, shares *big.Int) error {
	return m.auditor.execute(ctx, "transfer", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("transfer"); err != nil {
			return err
		}
		if !positive(shares) {
			return ErrInvalidAmount
		}
		if from.Equal(to) {
			return fmt.Errorf("%w: self transfer", ErrInvalidParameter)
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		sender, err := m.loadLedger(req, from)
		if err != nil {
			return err
		}
		if sender.Shares.Cmp(shares) < 0 {
			return fmt.Errorf("%w: transferring %s of %s", ErrInsufficientShares, shares, sender.Shares)
		}
		receiver, err := m.loadLedger(req, to)
		if err != nil {
			return err
		}
		sender.Shares.Sub(sender.Shares, shares)
		receiver.Shares.Add(receiver.Shares, shares)
		if err := req.state.PutAccountLedger(m.Symbol(), from, sender); err != nil {
			return err
		}
		if err := req.state.PutAccountLedger(m.Symbol(), to, receiver); err != nil {
			return err
		}
		if err := m.auditor.authorizeRelease(req, "transfer", m, from); err != nil {
			return err
		}
		req.emit(events.LendingTransfer{Market: m.Symbol(), From: from, To: to, Shares: new(big.Int).Set(shares)})
		return nil
	})
}

// store writes the records touched by an operation into the request.
func (m *Market) store(req *request, sp *SmartPool, pool *MaturityPool, account crypto.Address, ledger *AccountLedger) error {
	if sp != nil {
		if err := req.state.PutSmartPool(m.Symbol(), sp); err != nil {
			return err
		}
	}
	if pool != nil {
		if err := req.state.PutMaturityPool(m.Symbol(), pool); err != nil {
			return err
		}
	}
	if ledger != nil {
		ledger.Supplies = pruneEmpty(ledger.Supplies)
		ledger.Borrows = pruneEmpty(ledger.Borrows)
		if err := req.state.PutAccountLedger(m.Symbol(), account, ledger); err != nil {
			return err
		}
	}
	req.touch(m)
	return nil
}

// BalanceOf returns the smart pool shares held by account.
func (m *Market) BalanceOf(ctx context.Context, account crypto.Address) (*big.Int, error) {
	var shares *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		ledger, err := m.loadLedger(req, account)
		if err != nil {
			return err
		}
		shares = ledger.Shares
		return nil
	})
	return shares, err
}

// TotalAssets returns the smart pool assets including earnings released up
// to now.
func (m *Market) TotalAssets(ctx context.Context) (*big.Int, error) {
	var total *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		total = sp.TotalAssets
		return nil
	})
	return total, err
}

// ConvertToShares quotes the shares minted for assets.
func (m *Market) ConvertToShares(ctx context.Context, assets *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		shares, err = convertToShares(sp, zeroIfNil(assets))
		return err
	})
	return shares, err
}

// ConvertToAssets quotes the assets redeemed for shares.
func (m *Market) ConvertToAssets(ctx context.Context, shares *big.Int) (*big.Int, error) {
	var assets *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		assets, err = convertToAssets(sp, zeroIfNil(shares))
		return err
	})
	return assets, err
}

// SmartPool returns a copy of the accrued smart pool.
func (m *Market) SmartPool(ctx context.Context) (*SmartPool, error) {
	var out *SmartPool
	err := m.auditor.view(ctx, func(req *request) error {
		sp, err := m.accruedSmartPool(req)
		out = sp
		return err
	})
	return out, err
}

// MaturityPool returns a copy of the accrued maturity pool.
func (m *Market) MaturityPool(ctx context.Context, poolID uint64) (*MaturityPool, error) {
	var out *MaturityPool
	err := m.auditor.view(ctx, func(req *request) error {
		sp, err := m.accruedSmartPool(req)
		if err != nil {
			return err
		}
		pool, err := m.loadMaturityPool(req, poolID)
		if err != nil {
			return err
		}
		if err := m.accrueEarnings(req.now, sp, pool); err != nil {
			return err
		}
		out = pool
		return nil
	})
	return out, err
}

// AccountSnapshot returns account's supplied and borrowed amounts in native
// units. Supply counts smart pool shares at the current exchange rate plus
// maturity deposits with their fees; debt counts principal, fee and any
// overdue penalty. A non-zero poolID restricts maturity positions to that
// pool.
func (m *Market) AccountSnapshot(ctx context.Context, account crypto.Address, poolID uint64) (*big.Int, *big.Int, error) {
	var supplied, borrowed *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		var err error
		supplied, borrowed, err = m.snapshot(req, account, poolID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return supplied, borrowed, nil
}

func (m *Market) snapshot(req *request, account crypto.Address, poolID uint64) (*big.Int, *big.Int, error) {
	sp, err := m.accruedSmartPool(req)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := m.loadLedger(req, account)
	if err != nil {
		return nil, nil, err
	}
	supplied, err := convertToAssets(sp, ledger.Shares)
	if err != nil {
		return nil, nil, err
	}
	for _, pos := range ledger.Supplies {
		if poolID != 0 && pos.PoolID != poolID {
			continue
		}
		if supplied, err = checkedAdd(supplied, pos.Total()); err != nil {
			return nil, nil, err
		}
	}
	borrowed := big.NewInt(0)
	for _, pos := range ledger.Borrows {
		if poolID != 0 && pos.PoolID != poolID {
			continue
		}
		owed, err := m.owed(pos, req.now)
		if err != nil {
			return nil, nil, err
		}
		if borrowed, err = checkedAdd(borrowed, owed); err != nil {
			return nil, nil, err
		}
	}
	return supplied, borrowed, nil
}

// owed is principal plus fee plus the overdue penalty at now.
func (m *Market) owed(pos *Position, now uint64) (*big.Int, error) {
	total := pos.Total()
	penalty, err := Penalty(total, m.model.PenaltyRatePerDay(), pos.PoolID, now)
	if err != nil {
		return nil, err
	}
	return checkedAdd(total, penalty)
}

// AccountLiquidityShare values account's position at price, normalized to
// 18 decimals. Collateral is weighted by the market's collateral factor.
func (m *Market) AccountLiquidityShare(ctx context.Context, account crypto.Address, poolID uint64, price *big.Int) (*big.Int, *big.Int, error) {
	if !positive(price) {
		return nil, nil, fmt.Errorf("%w: price must be positive", ErrInvalidParameter)
	}
	var collateral, debt *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		l, err := m.auditor.lookup(m.Symbol())
		if err != nil {
			return err
		}
		collateral, debt, err = m.liquidityShare(req, account, poolID, price, l.collateralFactor)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return collateral, debt, nil
}

func (m *Market) liquidityShare(req *request, account crypto.Address, poolID uint64, price, factor *big.Int) (*big.Int, *big.Int, error) {
	supplied, borrowed, err := m.snapshot(req, account, poolID)
	if err != nil {
		return nil, nil, err
	}
	suppliedValue, err := Normalize(supplied, price, m.asset.Decimals)
	if err != nil {
		return nil, nil, err
	}
	collateral, err := wadMul(suppliedValue, factor)
	if err != nil {
		return nil, nil, err
	}
	debt, err := Normalize(borrowed, price, m.asset.Decimals)
	if err != nil {
		return nil, nil, err
	}
	return collateral, debt, nil
}
