package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"fixedlend/crypto"
	"fixedlend/native/lending"
	"fixedlend/storage"
)

var (
	lendingSmartPoolPrefix    = []byte("lending/smart/")
	lendingMaturityPoolPrefix = []byte("lending/maturity/")
	lendingLedgerPrefix       = []byte("lending/ledger/")
	lendingEnteredPrefix      = []byte("lending/entered/")
	lendingListingPrefix      = []byte("lending/listing/")

	lendingRegistryKey = ethcrypto.Keccak256([]byte("lending/registry"))
	lendingPausedKey   = ethcrypto.Keccak256([]byte("lending/paused"))
)

func lendingListingKey(market string) []byte {
	buf := make([]byte, 0, len(lendingListingPrefix)+len(market))
	buf = append(buf, lendingListingPrefix...)
	buf = append(buf, market...)
	return ethcrypto.Keccak256(buf)
}

func lendingSmartPoolKey(market string) []byte {
	buf := make([]byte, 0, len(lendingSmartPoolPrefix)+len(market))
	buf = append(buf, lendingSmartPoolPrefix...)
	buf = append(buf, market...)
	return ethcrypto.Keccak256(buf)
}

func lendingMaturityPoolKey(market string, poolID uint64) []byte {
	buf := make([]byte, 0, len(lendingMaturityPoolPrefix)+len(market)+9)
	buf = append(buf, lendingMaturityPoolPrefix...)
	buf = append(buf, market...)
	buf = append(buf, '/')
	buf = binary.BigEndian.AppendUint64(buf, poolID)
	return ethcrypto.Keccak256(buf)
}

func lendingLedgerKey(market string, account crypto.Address) []byte {
	addr := account.Bytes()
	buf := make([]byte, 0, len(lendingLedgerPrefix)+len(market)+1+len(addr))
	buf = append(buf, lendingLedgerPrefix...)
	buf = append(buf, market...)
	buf = append(buf, '/')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func lendingEnteredKey(account crypto.Address) []byte {
	addr := account.Bytes()
	buf := make([]byte, 0, len(lendingEnteredPrefix)+len(addr))
	buf = append(buf, lendingEnteredPrefix...)
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

type storedSmartPool struct {
	TotalAssets *big.Int
	TotalShares *big.Int
	Lent        *big.Int
	Maturities  []uint64
}

type storedPosition struct {
	PoolID    uint64
	Principal *big.Int
	Fee       *big.Int
}

type storedLedger struct {
	Shares   *big.Int
	Supplies []storedPosition
	Borrows  []storedPosition
}

// storedCurve carries CurveB as magnitude and sign since RLP integers are
// unsigned.
type storedCurve struct {
	CurveA         *big.Int
	CurveB         *big.Int
	CurveBNegative bool
	MaxUtilization *big.Int
	Penalty        *big.Int
	SmartPoolShare *big.Int
}

type storedListing struct {
	Symbol           string
	Name             string
	Decimals         uint8
	CollateralFactor *big.Int
	Curve            *storedCurve `rlp:"nil"`
}

// LendingStore persists the lending ledger in a key-value database using
// keccak-hashed keys and RLP encoded records.
type LendingStore struct {
	db storage.Database
}

// NewLendingStore wraps db. The store does not own the database.
func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db}
}

var (
	_ lending.State   = (*LendingStore)(nil)
	_ lending.Batcher = (*LendingStore)(nil)
)

func (s *LendingStore) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LendingStore) SmartPool(market string) (*lending.SmartPool, error) {
	var stored storedSmartPool
	ok, err := s.get(lendingSmartPoolKey(market), &stored)
	if err != nil || !ok {
		return nil, err
	}
	pool := &lending.SmartPool{
		TotalAssets: stored.TotalAssets,
		TotalShares: stored.TotalShares,
		Lent:        stored.Lent,
		Maturities:  stored.Maturities,
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (s *LendingStore) MaturityPool(market string, poolID uint64) (*lending.MaturityPool, error) {
	pool := new(lending.MaturityPool)
	ok, err := s.get(lendingMaturityPoolKey(market, poolID), pool)
	if err != nil || !ok {
		return nil, err
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (s *LendingStore) AccountLedger(market string, account crypto.Address) (*lending.AccountLedger, error) {
	var stored storedLedger
	ok, err := s.get(lendingLedgerKey(market, account), &stored)
	if err != nil || !ok {
		return nil, err
	}
	ledger := &lending.AccountLedger{
		Shares:   stored.Shares,
		Supplies: fromStoredPositions(stored.Supplies),
		Borrows:  fromStoredPositions(stored.Borrows),
	}
	ledger.EnsureDefaults()
	return ledger, nil
}

func (s *LendingStore) EnteredMarkets(account crypto.Address) ([]string, error) {
	var markets []string
	if _, err := s.get(lendingEnteredKey(account), &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// Listings returns the market registry in listing order.
func (s *LendingStore) Listings() ([]*lending.Listing, error) {
	symbols, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}
	out := make([]*lending.Listing, 0, len(symbols))
	for _, symbol := range symbols {
		var stored storedListing
		ok, err := s.get(lendingListingKey(symbol), &stored)
		if err != nil {
			return nil, fmt.Errorf("lending store: listing %s: %w", symbol, err)
		}
		if !ok {
			return nil, fmt.Errorf("lending store: registry names %s without a listing", symbol)
		}
		out = append(out, fromStoredListing(stored))
	}
	return out, nil
}

func (s *LendingStore) PausedModules() ([]string, error) {
	var modules []string
	if _, err := s.get(lendingPausedKey, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

func (s *LendingStore) loadRegistry() ([]string, error) {
	var symbols []string
	if _, err := s.get(lendingRegistryKey, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (s *LendingStore) PutSmartPool(market string, pool *lending.SmartPool) error {
	return s.putSmart(s.db.Put, market, pool)
}

func (s *LendingStore) PutMaturityPool(market string, pool *lending.MaturityPool) error {
	return s.putMaturity(s.db.Put, market, pool)
}

func (s *LendingStore) PutAccountLedger(market string, account crypto.Address, ledger *lending.AccountLedger) error {
	return s.putLedger(s.db.Put, market, account, ledger)
}

func (s *LendingStore) PutEnteredMarkets(account crypto.Address, markets []string) error {
	return s.putEntered(s.db.Put, account, markets)
}

func (s *LendingStore) PutListing(listing *lending.Listing) error {
	symbols, err := s.loadRegistry()
	if err != nil {
		return err
	}
	_, err = s.putListing(s.db.Put, symbols, listing)
	return err
}

func (s *LendingStore) PutPausedModules(modules []string) error {
	return s.putPaused(s.db.Put, modules)
}

// NewWriteBatch returns a batch whose writes land atomically on Write.
// Reads through the batch observe the committed store only.
func (s *LendingStore) NewWriteBatch() lending.WriteBatch {
	return &lendingBatch{LendingStore: s, batch: s.db.NewBatch()}
}

type putFunc func(key, value []byte) error

func encodeInto(put putFunc, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return put(key, encoded)
}

func (s *LendingStore) putSmart(put putFunc, market string, pool *lending.SmartPool) error {
	if pool == nil {
		return fmt.Errorf("lending store: nil smart pool for %s", market)
	}
	clone := pool.Clone()
	clone.EnsureDefaults()
	return encodeInto(put, lendingSmartPoolKey(market), storedSmartPool{
		TotalAssets: clone.TotalAssets,
		TotalShares: clone.TotalShares,
		Lent:        clone.Lent,
		Maturities:  clone.Maturities,
	})
}

func (s *LendingStore) putMaturity(put putFunc, market string, pool *lending.MaturityPool) error {
	if pool == nil {
		return fmt.Errorf("lending store: nil maturity pool for %s", market)
	}
	clone := pool.Clone()
	clone.EnsureDefaults()
	return encodeInto(put, lendingMaturityPoolKey(market, clone.PoolID), clone)
}

func (s *LendingStore) putLedger(put putFunc, market string, account crypto.Address, ledger *lending.AccountLedger) error {
	if ledger == nil {
		ledger = &lending.AccountLedger{}
	}
	clone := ledger.Clone()
	clone.EnsureDefaults()
	return encodeInto(put, lendingLedgerKey(market, account), storedLedger{
		Shares:   clone.Shares,
		Supplies: toStoredPositions(clone.Supplies),
		Borrows:  toStoredPositions(clone.Borrows),
	})
}

func (s *LendingStore) putEntered(put putFunc, account crypto.Address, markets []string) error {
	if markets == nil {
		markets = []string{}
	}
	return encodeInto(put, lendingEnteredKey(account), markets)
}

// putListing writes listing and returns symbols extended with its symbol.
func (s *LendingStore) putListing(put putFunc, symbols []string, listing *lending.Listing) ([]string, error) {
	if listing == nil || listing.Asset.Symbol == "" {
		return nil, fmt.Errorf("lending store: listing without symbol")
	}
	symbol := listing.Asset.Symbol
	if err := encodeInto(put, lendingListingKey(symbol), toStoredListing(listing)); err != nil {
		return nil, err
	}
	for _, existing := range symbols {
		if existing == symbol {
			return symbols, nil
		}
	}
	symbols = append(append([]string(nil), symbols...), symbol)
	return symbols, encodeInto(put, lendingRegistryKey, symbols)
}

func (s *LendingStore) putPaused(put putFunc, modules []string) error {
	if modules == nil {
		modules = []string{}
	}
	return encodeInto(put, lendingPausedKey, modules)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func toStoredListing(listing *lending.Listing) storedListing {
	stored := storedListing{
		Symbol:           listing.Asset.Symbol,
		Name:             listing.Asset.Name,
		Decimals:         listing.Asset.Decimals,
		CollateralFactor: nonNil(listing.CollateralFactor),
	}
	if curve := listing.Curve; curve != nil {
		b := nonNil(curve.CurveB)
		stored.Curve = &storedCurve{
			CurveA:         nonNil(curve.CurveA),
			CurveB:         new(big.Int).Abs(b),
			CurveBNegative: b.Sign() < 0,
			MaxUtilization: nonNil(curve.MaxUtilization),
			Penalty:        nonNil(curve.Penalty),
			SmartPoolShare: nonNil(curve.SmartPoolShare),
		}
	}
	return stored
}

func fromStoredListing(stored storedListing) *lending.Listing {
	listing := &lending.Listing{
		Asset:            lending.Asset{Symbol: stored.Symbol, Name: stored.Name, Decimals: stored.Decimals},
		CollateralFactor: nonNil(stored.CollateralFactor),
	}
	if curve := stored.Curve; curve != nil {
		b := new(big.Int).Set(nonNil(curve.CurveB))
		if curve.CurveBNegative {
			b.Neg(b)
		}
		listing.Curve = &lending.CurveModel{
			CurveA:         nonNil(curve.CurveA),
			CurveB:         b,
			MaxUtilization: nonNil(curve.MaxUtilization),
			Penalty:        nonNil(curve.Penalty),
			SmartPoolShare: nonNil(curve.SmartPoolShare),
		}
	}
	return listing
}

func toStoredPositions(positions []*lending.Position) []storedPosition {
	if len(positions) == 0 {
		return nil
	}
	out := make([]storedPosition, 0, len(positions))
	for _, pos := range positions {
		out = append(out, storedPosition{PoolID: pos.PoolID, Principal: pos.Principal, Fee: pos.Fee})
	}
	return out
}

func fromStoredPositions(stored []storedPosition) []*lending.Position {
	if len(stored) == 0 {
		return nil
	}
	out := make([]*lending.Position, 0, len(stored))
	for _, pos := range stored {
		out = append(out, &lending.Position{PoolID: pos.PoolID, Principal: pos.Principal, Fee: pos.Fee})
	}
	return out
}

type lendingBatch struct {
	*LendingStore
	batch storage.Batch

	// symbols tracks registry additions staged in this batch.
	symbols       []string
	symbolsLoaded bool
}

func (b *lendingBatch) putBatch(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *lendingBatch) PutSmartPool(market string, pool *lending.SmartPool) error {
	return b.putSmart(b.putBatch, market, pool)
}

func (b *lendingBatch) PutMaturityPool(market string, pool *lending.MaturityPool) error {
	return b.putMaturity(b.putBatch, market, pool)
}

func (b *lendingBatch) PutAccountLedger(market string, account crypto.Address, ledger *lending.AccountLedger) error {
	return b.putLedger(b.putBatch, market, account, ledger)
}

func (b *lendingBatch) PutEnteredMarkets(account crypto.Address, markets []string) error {
	return b.putEntered(b.putBatch, account, markets)
}

func (b *lendingBatch) PutListing(listing *lending.Listing) error {
	if !b.symbolsLoaded {
		symbols, err := b.loadRegistry()
		if err != nil {
			return err
		}
		b.symbols, b.symbolsLoaded = symbols, true
	}
	symbols, err := b.putListing(b.putBatch, b.symbols, listing)
	if err != nil {
		return err
	}
	b.symbols = symbols
	return nil
}

func (b *lendingBatch) PutPausedModules(modules []string) error {
	return b.putPaused(b.putBatch, modules)
}

func (b *lendingBatch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	return b.batch.Write()
}
