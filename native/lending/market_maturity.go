package lending

import (
	"context"
	"fmt"
	"math/big"

	"fixedlend/core/events"
	"fixedlend/crypto"
)

// drawable is the smart pool backing a maturity pool may still borrow.
func (m *Market) drawable(sp *SmartPool) (*big.Int, error) {
	return wadMul(sp.Idle(), m.auditor.cfg.MaxSmartPoolDraw)
}

// rebalanceDraw keeps SmartPoolBorrowed equal to the part of Borrowed that
// Supplied does not cover, moving the difference in or out of the smart pool.
func (m *Market) rebalanceDraw(sp *SmartPool, pool *MaturityPool) error {
	target := new(big.Int).Sub(pool.Borrowed, pool.Supplied)
	if target.Sign() < 0 {
		target.SetInt64(0)
	}
	delta := new(big.Int).Sub(target, pool.SmartPoolBorrowed)
	switch delta.Sign() {
	case 1:
		available, err := m.drawable(sp)
		if err != nil {
			return err
		}
		if delta.Cmp(available) > 0 {
			return fmt.Errorf("%w: pool %d needs %s, smart pool offers %s", ErrInsufficientProtocolLiquidity, pool.PoolID, delta, available)
		}
		sp.Lent.Add(sp.Lent, delta)
	case -1:
		var err error
		if sp.Lent, err = checkedAdd(sp.Lent, delta); err != nil {
			return err
		}
	}
	pool.SmartPoolBorrowed = target
	return nil
}

// openPool loads the smart pool and the maturity pool, both accrued to the
// request time.
func (m *Market) openPool(req *request, poolID uint64) (*SmartPool, *MaturityPool, error) {
	sp, err := m.accruedSmartPool(req)
	if err != nil {
		return nil, nil, err
	}
	pool, err := m.loadMaturityPool(req, poolID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.accrueEarnings(req.now, sp, pool); err != nil {
		return nil, nil, err
	}
	return sp, pool, nil
}

// borrowQuote prices borrowing amount from pool at the post-borrow
// utilization over the pool's supply plus reachable smart pool backing.
func (m *Market) borrowQuote(now uint64, sp *SmartPool, pool *MaturityPool, amount *big.Int) (*big.Int, error) {
	available, err := m.drawable(sp)
	if err != nil {
		return nil, err
	}
	capacity := new(big.Int).Add(pool.Supplied, pool.SmartPoolBorrowed)
	capacity.Add(capacity, available)
	borrowed := new(big.Int).Add(pool.Borrowed, amount)
	if borrowed.Cmp(capacity) > 0 {
		return nil, fmt.Errorf("%w: pool %d can lend %s", ErrInsufficientProtocolLiquidity, pool.PoolID, new(big.Int).Sub(capacity, pool.Borrowed))
	}
	utilization, err := Utilization(borrowed, capacity)
	if err != nil {
		return nil, err
	}
	rate, err := m.model.BorrowRate(utilization)
	if err != nil {
		return nil, err
	}
	return FixedFee(amount, rate, pool.PoolID, now)
}

// depositQuote prices supplying amount to pool: the curve quote net of the
// smart pool's share, capped by the earnings the pool has left to assign.
func (m *Market) depositQuote(now uint64, sp *SmartPool, pool *MaturityPool, amount *big.Int) (*big.Int, error) {
	available, err := m.drawable(sp)
	if err != nil {
		return nil, err
	}
	capacity := new(big.Int).Add(pool.Supplied, amount)
	capacity.Add(capacity, pool.SmartPoolBorrowed)
	capacity.Add(capacity, available)
	utilization, err := Utilization(pool.Borrowed, capacity)
	if err != nil {
		return nil, err
	}
	rate, err := m.model.BorrowRate(utilization)
	if err != nil {
		return nil, err
	}
	gross, err := FixedFee(amount, rate, pool.PoolID, now)
	if err != nil {
		return nil, err
	}
	lenderShare, err := checkedSub(WAD, m.model.SmartPoolRate())
	if err != nil {
		return nil, err
	}
	net, err := wadMul(gross, lenderShare)
	if err != nil {
		return nil, err
	}
	return minBig(net, pool.UnassignedEarnings), nil
}

// DepositToMaturityPool supplies amount to the pool maturing at poolID and
// returns the fee locked in for the supplier. A fee below minFee fails with
// ErrTooMuchSlippage; a nil minFee accepts any fee.
func (m *Market) DepositToMaturityPool(ctx context.Context, account crypto.Address, poolID uint64, amount, minFee *big.Int) (*big.Int, error) {
	var locked *big.Int
	err := m.auditor.execute(ctx, "deposit_at_maturity", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("deposit_at_maturity"); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		if err := m.auditor.cfg.Calendar.ValidateFuturePool(poolID, req.now); err != nil {
			return err
		}
		sp, pool, err := m.openPool(req, poolID)
		if err != nil {
			return err
		}
		fee, err := m.depositQuote(req.now, sp, pool, amount)
		if err != nil {
			return err
		}
		if minFee != nil && fee.Cmp(minFee) < 0 {
			return fmt.Errorf("%w: fee %s below minimum %s", ErrTooMuchSlippage, fee, minFee)
		}
		pool.UnassignedEarnings.Sub(pool.UnassignedEarnings, fee)
		if pool.UnassignedEarnings.Sign() == 0 {
			sp.untrackMaturity(poolID)
		}
		if pool.Supplied, err = checkedAdd(pool.Supplied, amount); err != nil {
			return err
		}
		if err := m.rebalanceDraw(sp, pool); err != nil {
			return err
		}
		ledger, err := m.loadLedger(req, account)
		if err != nil {
			return err
		}
		var pos *Position
		ledger.Supplies, pos = upsertPosition(ledger.Supplies, poolID)
		pos.Principal.Add(pos.Principal, amount)
		pos.Fee.Add(pos.Fee, fee)
		if err := m.store(req, sp, pool, account, ledger); err != nil {
			return err
		}
		req.emit(events.LendingDepositAtMaturity{
			Market:   m.Symbol(),
			Account:  account,
			Maturity: poolID,
			Assets:   new(big.Int).Set(amount),
			Fee:      new(big.Int).Set(fee),
		})
		locked = fee
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

// BorrowFromMaturityPool borrows amount until poolID and returns the fee
// owed on top of principal. A fee above maxFee fails with
// ErrTooMuchSlippage; a nil maxFee accepts any fee. Borrowing enters the
// market for account and requires the resulting position to be
// collateralized.
func (m *Market) BorrowFromMaturityPool(ctx context.Context, account crypto.Address, poolID uint64, amount, maxFee *big.Int) (*big.Int, error) {
	var owed *big.Int
	err := m.auditor.execute(ctx, "borrow", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("borrow"); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		if err := m.auditor.cfg.Calendar.ValidateFuturePool(poolID, req.now); err != nil {
			return err
		}
		sp, pool, err := m.openPool(req, poolID)
		if err != nil {
			return err
		}
		fee, err := m.borrowQuote(req.now, sp, pool, amount)
		if err != nil {
			return err
		}
		if maxFee != nil && fee.Cmp(maxFee) > 0 {
			return fmt.Errorf("%w: fee %s above maximum %s", ErrTooMuchSlippage, fee, maxFee)
		}
		smartPoolShare, err := wadMul(fee, m.model.SmartPoolRate())
		if err != nil {
			return err
		}
		earnings := new(big.Int).Sub(fee, smartPoolShare)
		m.creditSmartPool(sp, pool, smartPoolShare)
		if earnings.Sign() > 0 {
			pool.UnassignedEarnings.Add(pool.UnassignedEarnings, earnings)
			sp.trackMaturity(poolID)
		}
		if pool.Borrowed, err = checkedAdd(pool.Borrowed, amount); err != nil {
			return err
		}
		if err := m.rebalanceDraw(sp, pool); err != nil {
			return err
		}
		ledger, err := m.loadLedger(req, account)
		if err != nil {
			return err
		}
		var pos *Position
		ledger.Borrows, pos = upsertPosition(ledger.Borrows, poolID)
		pos.Principal.Add(pos.Principal, amount)
		pos.Fee.Add(pos.Fee, fee)
		if err := m.store(req, sp, pool, account, ledger); err != nil {
			return err
		}
		if err := m.auditor.authorizeBorrow(req, m, account); err != nil {
			return err
		}
		req.emit(events.LendingBorrow{
			Market:   m.Symbol(),
			Account:  account,
			Maturity: poolID,
			Assets:   new(big.Int).Set(amount),
			Fee:      new(big.Int).Set(fee),
		})
		owed = fee
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owed, nil
}

// splitProRata divides covered between principal and fee in proportion to
// the position, never taking more fee than the position holds.
func splitProRata(pos *Position, covered *big.Int) (*big.Int, *big.Int, error) {
	total := pos.Total()
	if covered.Cmp(total) >= 0 {
		return new(big.Int).Set(pos.Principal), new(big.Int).Set(pos.Fee), nil
	}
	principal, err := mulDiv(covered, pos.Principal, total)
	if err != nil {
		return nil, nil, err
	}
	fee := new(big.Int).Sub(covered, principal)
	if fee.Cmp(pos.Fee) > 0 {
		principal.Add(principal, new(big.Int).Sub(fee, pos.Fee))
		fee.Set(pos.Fee)
	}
	return principal, fee, nil
}

// RepayToMaturityPool repays up to the outstanding debt of account in
// poolID, including the overdue penalty once the maturity has passed.
// Principal and fee are retired pro rata; the penalty share goes to the
// smart pool. Amounts above the debt fail with ErrDebtExceeded.
func (m *Market) RepayToMaturityPool(ctx context.Context, account crypto.Address, poolID uint64, amount *big.Int) (*big.Int, error) {
	var repaid *big.Int
	err := m.auditor.execute(ctx, "repay", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("repay"); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		if err := m.auditor.cfg.Calendar.ValidateSettlementPool(poolID, req.now); err != nil {
			return err
		}
		ledger, err := m.loadLedger(req, account)
		if err != nil {
			return err
		}
		pos := findPosition(ledger.Borrows, poolID)
		if pos == nil {
			return fmt.Errorf("%w: no debt in pool %d", ErrDebtExceeded, poolID)
		}
		total := pos.Total()
		owed, err := m.owed(pos, req.now)
		if err != nil {
			return err
		}
		if amount.Cmp(owed) > 0 {
			return fmt.Errorf("%w: repaying %s of %s", ErrDebtExceeded, amount, owed)
		}
		covered := new(big.Int).Set(total)
		if amount.Cmp(owed) < 0 {
			if covered, err = mulDiv(amount, total, owed); err != nil {
				return err
			}
		}
		penalty := new(big.Int).Sub(amount, covered)
		principal, fee, err := splitProRata(pos, covered)
		if err != nil {
			return err
		}

		sp, pool, err := m.openPool(req, poolID)
		if err != nil {
			return err
		}
		if pool.Borrowed, err = checkedSub(pool.Borrowed, principal); err != nil {
			return err
		}
		if err := m.rebalanceDraw(sp, pool); err != nil {
			return err
		}
		m.creditSmartPool(sp, pool, penalty)
		pos.Principal.Sub(pos.Principal, principal)
		pos.Fee.Sub(pos.Fee, fee)
		if err := m.store(req, sp, pool, account, ledger); err != nil {
			return err
		}
		req.emit(events.LendingRepay{
			Market:      m.Symbol(),
			Account:     account,
			Maturity:    poolID,
			Assets:      new(big.Int).Set(amount),
			DebtCovered: covered,
			Penalty:     penalty,
		})
		repaid = new(big.Int).Set(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

// WithdrawFromMaturityPool pays amount of account's matured supply in
// poolID to receiver. Principal and fee are reduced pro rata and the account
// must remain collateralized.
func (m *Market) WithdrawFromMaturityPool(ctx context.Context, account, receiver crypto.Address, poolID uint64, amount *big.Int) (*big.Int, error) {
	var withdrawn *big.Int
	err := m.auditor.execute(ctx, "withdraw_at_maturity", m.Symbol(), func(req *request) error {
		if err := m.auditor.guard("withdraw_at_maturity"); err != nil {
			return err
		}
		if !positive(amount) {
			return ErrInvalidAmount
		}
		if err := m.requireListed(); err != nil {
			return err
		}
		if err := m.auditor.cfg.Calendar.ValidateSettlementPool(poolID, req.now); err != nil {
			return err
		}
		if req.now < poolID {
			return fmt.Errorf("%w: pool %d matures in %ds", ErrMaturityNotReached, poolID, poolID-req.now)
		}
		ledger, err := m.loadLedger(req, account)
		if err != nil {
			return err
		}
		pos := findPosition(ledger.Supplies, poolID)
		if pos == nil || amount.Cmp(pos.Total()) > 0 {
			return fmt.Errorf("%w: pool %d", ErrInsufficientBalance, poolID)
		}
		principal, fee, err := splitProRata(pos, amount)
		if err != nil {
			return err
		}
		sp, pool, err := m.openPool(req, poolID)
		if err != nil {
			return err
		}
		if pool.Supplied, err = checkedSub(pool.Supplied, principal); err != nil {
			return err
		}
		if err := m.rebalanceDraw(sp, pool); err != nil {
			return err
		}
		pos.Principal.Sub(pos.Principal, principal)
		pos.Fee.Sub(pos.Fee, fee)
		if err := m.store(req, sp, pool, account, ledger); err != nil {
			return err
		}
		if err := m.auditor.authorizeRelease(req, "withdraw", m, account); err != nil {
			return err
		}
		req.emit(events.LendingWithdrawAtMaturity{
			Market:   m.Symbol(),
			Account:  account,
			Receiver: receiver,
			Maturity: poolID,
			Assets:   new(big.Int).Set(amount),
		})
		withdrawn = new(big.Int).Set(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// PreviewBorrowFee quotes the fee for borrowing amount until poolID now.
func (m *Market) PreviewBorrowFee(ctx context.Context, poolID uint64, amount *big.Int) (*big.Int, error) {
	var fee *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		if err := m.auditor.cfg.Calendar.ValidateFuturePool(poolID, req.now); err != nil {
			return err
		}
		sp, pool, err := m.openPool(req, poolID)
		if err != nil {
			return err
		}
		fee, err = m.borrowQuote(req.now, sp, pool, zeroIfNil(amount))
		return err
	})
	return fee, err
}

// PreviewDepositFee quotes the fee earned for supplying amount until poolID.
func (m *Market) PreviewDepositFee(ctx context.Context, poolID uint64, amount *big.Int) (*big.Int, error) {
	var fee *big.Int
	err := m.auditor.view(ctx, func(req *request) error {
		if err := m.auditor.cfg.Calendar.ValidateFuturePool(poolID, req.now); err != nil {
			return err
		}
		sp, pool, err := m.openPool(req, poolID)
		if err != nil {
			return err
		}
		fee, err = m.depositQuote(req.now, sp, pool, zeroIfNil(amount))
		return err
	})
	return fee, err
}
