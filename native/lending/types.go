package lending

import (
	"math/big"
	"sort"
)

// Asset describes the token a market lends. Amounts in the market ledger are
// expressed in the asset's native base units.
type Asset struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// SmartPool is the share-based liquidity pool of a market. Lent tracks the
// assets currently drawn by maturity pools and Maturities lists the pools
// still releasing earnings into it.
type SmartPool struct {
	TotalAssets *big.Int
	TotalShares *big.Int
	Lent        *big.Int
	Maturities  []uint64
}

// Clone returns a deep copy of the pool.
func (p *SmartPool) Clone() *SmartPool {
	if p == nil {
		return nil
	}
	return &SmartPool{
		TotalAssets: cloneBig(p.TotalAssets),
		TotalShares: cloneBig(p.TotalShares),
		Lent:        cloneBig(p.Lent),
		Maturities:  append([]uint64(nil), p.Maturities...),
	}
}

// EnsureDefaults populates nil big.Int fields so RLP handling is safe.
func (p *SmartPool) EnsureDefaults() {
	if p.TotalAssets == nil {
		p.TotalAssets = big.NewInt(0)
	}
	if p.TotalShares == nil {
		p.TotalShares = big.NewInt(0)
	}
	if p.Lent == nil {
		p.Lent = big.NewInt(0)
	}
}

// Idle is the portion of the pool's assets not drawn by maturity pools.
func (p *SmartPool) Idle() *big.Int {
	idle := new(big.Int).Sub(zeroIfNil(p.TotalAssets), zeroIfNil(p.Lent))
	if idle.Sign() < 0 {
		return big.NewInt(0)
	}
	return idle
}

func (p *SmartPool) trackMaturity(poolID uint64) {
	for _, id := range p.Maturities {
		if id == poolID {
			return
		}
	}
	p.Maturities = append(p.Maturities, poolID)
	sort.Slice(p.Maturities, func(i, j int) bool { return p.Maturities[i] < p.Maturities[j] })
}

func (p *SmartPool) untrackMaturity(poolID uint64) {
	out := p.Maturities[:0]
	for _, id := range p.Maturities {
		if id != poolID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		out = nil
	}
	p.Maturities = out
}

// MaturityPool is the fixed-rate ledger of one maturity. SmartPoolBorrowed
// is the smart pool backing drawn when borrowing exceeds supply.
type MaturityPool struct {
	PoolID             uint64
	Supplied           *big.Int
	Borrowed           *big.Int
	SmartPoolBorrowed  *big.Int
	UnassignedEarnings *big.Int
	LastAccrual        uint64
}

// Clone returns a deep copy of the pool.
func (p *MaturityPool) Clone() *MaturityPool {
	if p == nil {
		return nil
	}
	return &MaturityPool{
		PoolID:             p.PoolID,
		Supplied:           cloneBig(p.Supplied),
		Borrowed:           cloneBig(p.Borrowed),
		SmartPoolBorrowed:  cloneBig(p.SmartPoolBorrowed),
		UnassignedEarnings: cloneBig(p.UnassignedEarnings),
		LastAccrual:        p.LastAccrual,
	}
}

// EnsureDefaults populates nil big.Int fields so RLP handling is safe.
func (p *MaturityPool) EnsureDefaults() {
	if p.Supplied == nil {
		p.Supplied = big.NewInt(0)
	}
	if p.Borrowed == nil {
		p.Borrowed = big.NewInt(0)
	}
	if p.SmartPoolBorrowed == nil {
		p.SmartPoolBorrowed = big.NewInt(0)
	}
	if p.UnassignedEarnings == nil {
		p.UnassignedEarnings = big.NewInt(0)
	}
}

// Position is an account's supply or debt in one maturity pool. Fee is the
// interest locked in when the position was opened or increased.
type Position struct {
	PoolID    uint64
	Principal *big.Int
	Fee       *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{PoolID: p.PoolID, Principal: cloneBig(p.Principal), Fee: cloneBig(p.Fee)}
}

// Total is principal plus fee.
func (p *Position) Total() *big.Int {
	return new(big.Int).Add(zeroIfNil(p.Principal), zeroIfNil(p.Fee))
}

func (p *Position) empty() bool {
	return !positive(p.Principal) && !positive(p.Fee)
}

// AccountLedger holds an account's holdings in a single market: smart pool
// shares plus maturity supply and debt positions ordered by pool.
type AccountLedger struct {
	Shares   *big.Int
	Supplies []*Position
	Borrows  []*Position
}

// Clone returns a deep copy of the ledger.
func (l *AccountLedger) Clone() *AccountLedger {
	if l == nil {
		return nil
	}
	clone := &AccountLedger{Shares: cloneBig(l.Shares)}
	for _, pos := range l.Supplies {
		clone.Supplies = append(clone.Supplies, pos.Clone())
	}
	for _, pos := range l.Borrows {
		clone.Borrows = append(clone.Borrows, pos.Clone())
	}
	return clone
}

// EnsureDefaults populates nil big.Int fields so RLP handling is safe.
func (l *AccountLedger) EnsureDefaults() {
	if l.Shares == nil {
		l.Shares = big.NewInt(0)
	}
	for _, list := range [][]*Position{l.Supplies, l.Borrows} {
		for _, pos := range list {
			if pos.Principal == nil {
				pos.Principal = big.NewInt(0)
			}
			if pos.Fee == nil {
				pos.Fee = big.NewInt(0)
			}
		}
	}
}

// Empty reports whether the ledger holds nothing.
func (l *AccountLedger) Empty() bool {
	return !positive(l.Shares) && len(l.Supplies) == 0 && len(l.Borrows) == 0
}

// HasDebt reports whether any maturity debt is outstanding.
func (l *AccountLedger) HasDebt() bool {
	return len(l.Borrows) > 0
}

func findPosition(list []*Position, poolID uint64) *Position {
	for _, pos := range list {
		if pos.PoolID == poolID {
			return pos
		}
	}
	return nil
}

// upsertPosition returns the position for poolID, inserting an empty one in
// pool order when missing.
func upsertPosition(list []*Position, poolID uint64) ([]*Position, *Position) {
	if pos := findPosition(list, poolID); pos != nil {
		return list, pos
	}
	pos := &Position{PoolID: poolID, Principal: big.NewInt(0), Fee: big.NewInt(0)}
	list = append(list, pos)
	sort.Slice(list, func(i, j int) bool { return list[i].PoolID < list[j].PoolID })
	return list, pos
}

// pruneEmpty drops positions whose principal and fee are both zero.
func pruneEmpty(list []*Position) []*Position {
	out := list[:0]
	for _, pos := range list {
		if !pos.empty() {
			out = append(out, pos)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Listing is the registry record of a listed market. Curve is nil when the
// market prices with a model other than CurveModel.
type Listing struct {
	Asset            Asset
	CollateralFactor *big.Int
	Curve            *CurveModel
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	return &Listing{
		Asset:            l.Asset,
		CollateralFactor: cloneBig(l.CollateralFactor),
		Curve:            l.Curve.Clone(),
	}
}
