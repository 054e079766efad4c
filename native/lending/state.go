package lending

import (
	"sort"
	"strings"
	"sync"

	"fixedlend/crypto"
)

// State is the ledger backend consumed by the engine. Getters return nil
// without error when a record does not exist yet.
type State interface {
	SmartPool(market string) (*SmartPool, error)
	PutSmartPool(market string, pool *SmartPool) error
	MaturityPool(market string, poolID uint64) (*MaturityPool, error)
	PutMaturityPool(market string, pool *MaturityPool) error
	AccountLedger(market string, account crypto.Address) (*AccountLedger, error)
	PutAccountLedger(market string, account crypto.Address, ledger *AccountLedger) error
	EnteredMarkets(account crypto.Address) ([]string, error)
	PutEnteredMarkets(account crypto.Address, markets []string) error
	// Listings returns the market registry in listing order.
	Listings() ([]*Listing, error)
	// PutListing inserts or replaces the listing of Asset.Symbol.
	PutListing(listing *Listing) error
	PausedModules() ([]string, error)
	PutPausedModules(modules []string) error
}

// WriteBatch collects writes that become visible together on Write.
type WriteBatch interface {
	State
	Write() error
}

// Batcher is implemented by backends able to commit a request atomically.
type Batcher interface {
	NewWriteBatch() WriteBatch
}

type maturityKey struct {
	market string
	poolID uint64
}

type ledgerKey struct {
	market  string
	account string
}

// MemoryState is an in-process State used by tests and ephemeral engines.
type MemoryState struct {
	mu       sync.RWMutex
	smart    map[string]*SmartPool
	maturity map[maturityKey]*MaturityPool
	ledgers  map[ledgerKey]*AccountLedger
	entered  map[string][]string
	listings []*Listing
	paused   []string
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		smart:    make(map[string]*SmartPool),
		maturity: make(map[maturityKey]*MaturityPool),
		ledgers:  make(map[ledgerKey]*AccountLedger),
		entered:  make(map[string][]string),
	}
}

func (s *MemoryState) SmartPool(market string) (*SmartPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.smart[market].Clone(), nil
}

func (s *MemoryState) PutSmartPool(market string, pool *SmartPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smart[market] = pool.Clone()
	return nil
}

func (s *MemoryState) MaturityPool(market string, poolID uint64) (*MaturityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maturity[maturityKey{market, poolID}].Clone(), nil
}

func (s *MemoryState) PutMaturityPool(market string, pool *MaturityPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maturity[maturityKey{market, pool.PoolID}] = pool.Clone()
	return nil
}

func (s *MemoryState) AccountLedger(market string, account crypto.Address) (*AccountLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgers[ledgerKey{market, account.Key()}].Clone(), nil
}

func (s *MemoryState) PutAccountLedger(market string, account crypto.Address, ledger *AccountLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[ledgerKey{market, account.Key()}] = ledger.Clone()
	return nil
}

func (s *MemoryState) EnteredMarkets(account crypto.Address) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.entered[account.Key()]...), nil
}

func (s *MemoryState) PutEnteredMarkets(account crypto.Address, markets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered[account.Key()] = append([]string(nil), markets...)
	return nil
}

func (s *MemoryState) Listings() ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l.Clone())
	}
	return out, nil
}

func (s *MemoryState) PutListing(listing *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = upsertListing(s.listings, listing.Clone())
	return nil
}

func (s *MemoryState) PausedModules() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.paused...), nil
}

func (s *MemoryState) PutPausedModules(modules []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = append([]string(nil), modules...)
	return nil
}

func upsertListing(list []*Listing, listing *Listing) []*Listing {
	for i, existing := range list {
		if existing.Asset.Symbol == listing.Asset.Symbol {
			list[i] = listing
			return list
		}
	}
	return append(list, listing)
}

// Snapshot returns a deep copy of the ledger for comparisons.
func (s *MemoryState) Snapshot() *MemoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewMemoryState()
	for k, v := range s.smart {
		out.smart[k] = v.Clone()
	}
	for k, v := range s.maturity {
		out.maturity[k] = v.Clone()
	}
	for k, v := range s.ledgers {
		out.ledgers[k] = v.Clone()
	}
	for k, v := range s.entered {
		out.entered[k] = append([]string(nil), v...)
	}
	for _, l := range s.listings {
		out.listings = append(out.listings, l.Clone())
	}
	out.paused = append([]string(nil), s.paused...)
	return out
}

// stagedState overlays a request's writes on top of a base State. Nothing
// reaches the base until commit.
type stagedState struct {
	base     State
	smart    map[string]*SmartPool
	maturity map[maturityKey]*MaturityPool
	ledgers  map[ledgerKey]*AccountLedger
	accounts map[string]crypto.Address
	entered  map[string][]string
	listings []*Listing
	paused   []string
	pausedOK bool
}

func newStagedState(base State) *stagedState {
	return &stagedState{
		base:     base,
		smart:    make(map[string]*SmartPool),
		maturity: make(map[maturityKey]*MaturityPool),
		ledgers:  make(map[ledgerKey]*AccountLedger),
		accounts: make(map[string]crypto.Address),
		entered:  make(map[string][]string),
	}
}

func (s *stagedState) SmartPool(market string) (*SmartPool, error) {
	if pool, ok := s.smart[market]; ok {
		return pool.Clone(), nil
	}
	pool, err := s.base.SmartPool(market)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

func (s *stagedState) PutSmartPool(market string, pool *SmartPool) error {
	s.smart[market] = pool.Clone()
	return nil
}

func (s *stagedState) MaturityPool(market string, poolID uint64) (*MaturityPool, error) {
	if pool, ok := s.maturity[maturityKey{market, poolID}]; ok {
		return pool.Clone(), nil
	}
	pool, err := s.base.MaturityPool(market, poolID)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

func (s *stagedState) PutMaturityPool(market string, pool *MaturityPool) error {
	s.maturity[maturityKey{market, pool.PoolID}] = pool.Clone()
	return nil
}

func (s *stagedState) AccountLedger(market string, account crypto.Address) (*AccountLedger, error) {
	if ledger, ok := s.ledgers[ledgerKey{market, account.Key()}]; ok {
		return ledger.Clone(), nil
	}
	ledger, err := s.base.AccountLedger(market, account)
	if err != nil {
		return nil, err
	}
	return ledger.Clone(), nil
}

func (s *stagedState) PutAccountLedger(market string, account crypto.Address, ledger *AccountLedger) error {
	s.ledgers[ledgerKey{market, account.Key()}] = ledger.Clone()
	s.accounts[account.Key()] = account
	return nil
}

func (s *stagedState) EnteredMarkets(account crypto.Address) ([]string, error) {
	if markets, ok := s.entered[account.Key()]; ok {
		return append([]string(nil), markets...), nil
	}
	return s.base.EnteredMarkets(account)
}

func (s *stagedState) PutEnteredMarkets(account crypto.Address, markets []string) error {
	s.entered[account.Key()] = append([]string(nil), markets...)
	s.accounts[account.Key()] = account
	return nil
}

func (s *stagedState) Listings() ([]*Listing, error) {
	base, err := s.base.Listings()
	if err != nil {
		return nil, err
	}
	for _, l := range s.listings {
		base = upsertListing(base, l.Clone())
	}
	return base, nil
}

func (s *stagedState) PutListing(listing *Listing) error {
	s.listings = upsertListing(s.listings, listing.Clone())
	return nil
}

func (s *stagedState) PausedModules() ([]string, error) {
	if s.pausedOK {
		return append([]string(nil), s.paused...), nil
	}
	return s.base.PausedModules()
}

func (s *stagedState) PutPausedModules(modules []string) error {
	s.paused = append([]string(nil), modules...)
	s.pausedOK = true
	return nil
}

func (s *stagedState) dirty() bool {
	return len(s.smart)+len(s.maturity)+len(s.ledgers)+len(s.entered)+len(s.listings) > 0 || s.pausedOK
}

// commit writes the overlay through in a deterministic order, batching when
// the base supports it.
func (s *stagedState) commit() error {
	if !s.dirty() {
		return nil
	}
	target := s.base
	var batch WriteBatch
	if batcher, ok := s.base.(Batcher); ok {
		batch = batcher.NewWriteBatch()
		target = batch
	}
	if err := s.writeTo(target); err != nil {
		return err
	}
	if batch != nil {
		return batch.Write()
	}
	return nil
}

func (s *stagedState) writeTo(target State) error {
	markets := make([]string, 0, len(s.smart))
	for market := range s.smart {
		markets = append(markets, market)
	}
	sort.Strings(markets)
	for _, market := range markets {
		if err := target.PutSmartPool(market, s.smart[market]); err != nil {
			return err
		}
	}

	pools := make([]maturityKey, 0, len(s.maturity))
	for key := range s.maturity {
		pools = append(pools, key)
	}
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].market != pools[j].market {
			return pools[i].market < pools[j].market
		}
		return pools[i].poolID < pools[j].poolID
	})
	for _, key := range pools {
		if err := target.PutMaturityPool(key.market, s.maturity[key]); err != nil {
			return err
		}
	}

	ledgers := make([]ledgerKey, 0, len(s.ledgers))
	for key := range s.ledgers {
		ledgers = append(ledgers, key)
	}
	sort.Slice(ledgers, func(i, j int) bool {
		if ledgers[i].market != ledgers[j].market {
			return ledgers[i].market < ledgers[j].market
		}
		return strings.Compare(ledgers[i].account, ledgers[j].account) < 0
	})
	for _, key := range ledgers {
		if err := target.PutAccountLedger(key.market, s.accounts[key.account], s.ledgers[key]); err != nil {
			return err
		}
	}

	accounts := make([]string, 0, len(s.entered))
	for key := range s.entered {
		accounts = append(accounts, key)
	}
	sort.Strings(accounts)
	for _, key := range accounts {
		if err := target.PutEnteredMarkets(s.accounts[key], s.entered[key]); err != nil {
			return err
		}
	}

	for _, listing := range s.listings {
		if err := target.PutListing(listing); err != nil {
			return err
		}
	}
	if s.pausedOK {
		return target.PutPausedModules(s.paused)
	}
	return nil
}
