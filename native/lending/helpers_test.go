package lending

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/core/events"
	"fixedlend/crypto"
)

const (
	day = uint64(secondsPerDay)
	// genesis sits on the weekly grid so maturities are whole weeks away.
	genesis = uint64(1699488000)
)

func newAccount(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

// wad scales a decimal string to 18 decimals, e.g. wad("0.8").
func wad(t *testing.T, value string) *big.Int {
	t.Helper()
	r, ok := new(big.Rat).SetString(value)
	require.True(t, ok, value)
	r.Mul(r, new(big.Rat).SetInt(WAD))
	require.True(t, r.IsInt(), value)
	return new(big.Int).Set(r.Num())
}

// units returns n whole tokens in base units of an asset with decimals.
func units(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(decimals))
}

// fixedRateModel quotes the same rate at every utilization.
type fixedRateModel struct {
	rate    *big.Int
	penalty *big.Int
	spRate  *big.Int
}

func (m fixedRateModel) BorrowRate(*big.Int) (*big.Int, error) { return new(big.Int).Set(m.rate), nil }
func (m fixedRateModel) PenaltyRatePerDay() *big.Int { return new(big.Int).Set(m.penalty) }
func (m fixedRateModel) SmartPoolRate() *big.Int { return new(big.Int).Set(m.spRate) }

func zeroRateModel(t *testing.T) fixedRateModel {
	return fixedRateModel{rate: big.NewInt(0), penalty: wad(t, "0.02"), spRate: wad(t, "0.1")}
}

type testOracle struct {
	mu     sync.Mutex
	prices map[string]*big.Int
	hook   func(ctx context.Context) error
}

func (o *testOracle) Name() string { return "test" }

func (o *testOracle) Price(ctx context.Context, symbol string) (*big.Int, error) {
	o.mu.Lock()
	hook := o.hook
	price, ok := o.prices[symbol]
	o.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, ErrMarketNotListed
	}
	return new(big.Int).Set(price), nil
}

func (o *testOracle) set(symbol string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	state    *MemoryState
	auditor  *Auditor
	admin    crypto.Address
	oracle   *testOracle
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	admin := newAccount(t)
	state := NewMemoryState()
	authorizer := AuthorizerFunc(func(caller crypto.Address, _ string) bool { return caller.Equal(admin) })
	auditor, err := NewAuditor(state, authorizer, DefaultConfig())
	require.NoError(t, err)
	auditor.SetBlockTime(genesis)
	recorder := &events.Recorder{}
	auditor.SetEmitter(recorder)
	oracle := &testOracle{prices: make(map[string]*big.Int)}
	ctx := context.Background()
	require.NoError(t, auditor.SetOracle(ctx, admin, oracle))
	return &harness{t: t, ctx: ctx, state: state, auditor: auditor, admin: admin, oracle: oracle, recorder: recorder}
}

// list creates and lists a market priced at one dollar per token.
func (h *harness) list(symbol string, decimals uint8, model RateModel, factor string) *Market {
	h.t.Helper()
	market, err := NewMarket(h.auditor, Asset{Symbol: symbol, Name: symbol, Decimals: decimals}, model)
	require.NoError(h.t, err)
	require.NoError(h.t, h.auditor.EnableMarket(h.ctx, h.admin, market, wad(h.t, factor), symbol, symbol))
	h.oracle.set(market.Symbol(), new(big.Int).Set(WAD))
	return market
}

func (h *harness) at(ts uint64) {
	h.auditor.SetBlockTime(ts)
}

// supply deposits amount to the smart pool and enters the market.
func (h *harness) supply(market *Market, account crypto.Address, amount *big.Int) {
	h.t.Helper()
	_, err := market.Deposit(h.ctx, account, amount)
	require.NoError(h.t, err)
	require.NoError(h.t, h.auditor.EnterMarkets(h.ctx, account, 0, market))
}

func (h *harness) liquidity(account crypto.Address) (*big.Int, *big.Int) {
	h.t.Helper()
	liquidity, shortfall, err := h.auditor.AccountLiquidity(h.ctx, account, 0)
	require.NoError(h.t, err)
	return liquidity, shortfall
}

func firstPool(h *harness) uint64 {
	return h.auditor.Calendar().PoolID(h.auditor.Now())
}
