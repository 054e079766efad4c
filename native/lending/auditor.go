package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"fixedlend/core/events"
	"fixedlend/crypto"
	nativecommon "fixedlend/native/common"
	"fixedlend/observability/metrics"
	telemetry "fixedlend/observability/otel"
)

// ModuleName is the pause switch covering every lending operation. Single
// operations can be halted with ModuleName + "." + operation.
const ModuleName = "lending"

type listing struct {
	market           *Market
	collateralFactor *big.Int
}

// Auditor is the risk manager shared by every market. It owns the market
// registry, collateral factors and the entered market sets, and serializes
// requests so each one observes a single consistent ledger.
type Auditor struct {
	mu sync.Mutex

	state      State
	oracle     PriceOracle
	authorizer Authorizer
	pauses     *nativecommon.PauseSet
	emitter    events.Emitter
	logger     *slog.Logger
	metrics    *metrics.LendingMetrics
	cfg        Config

	clockMu   sync.RWMutex
	blockTime uint64

	listings []listing
	index    map[string]int
}

// NewAuditor constructs an auditor over state and reloads the market
// registry and pause switches persisted there. Privileged calls are checked
// against authorizer.
func NewAuditor(state State, authorizer Authorizer, cfg Config) (*Auditor, error) {
	if state == nil {
		return nil, ErrNilState
	}
	if authorizer == nil {
		return nil, fmt.Errorf("%w: authorizer required", ErrInvalidParameter)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Auditor{
		state:      state,
		authorizer: authorizer,
		pauses:     nativecommon.NewPauseSet(),
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		metrics:    metrics.Lending(),
		cfg:        cfg,
		index:      make(map[string]int),
	}
	if err := a.restore(); err != nil {
		return nil, fmt.Errorf("lending: restore registry: %w", err)
	}
	return a, nil
}

func (a *Auditor) restore() error {
	stored, err := a.state.Listings()
	if err != nil {
		return err
	}
	for _, l := range stored {
		if err := ValidateCollateralFactor(l.CollateralFactor); err != nil {
			return fmt.Errorf("%s: %w", l.Asset.Symbol, err)
		}
		var model RateModel = l.Curve
		if l.Curve == nil {
			a.logger.Warn("restoring market with the default curve",
				slog.String("market", l.Asset.Symbol))
			model = DefaultCurveModel()
		}
		market, err := NewMarket(a, l.Asset, model)
		if err != nil {
			return fmt.Errorf("%s: %w", l.Asset.Symbol, err)
		}
		if _, ok := a.index[market.Symbol()]; ok {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, market.Symbol())
		}
		a.index[market.Symbol()] = len(a.listings)
		a.listings = append(a.listings, listing{market: market, collateralFactor: new(big.Int).Set(l.CollateralFactor)})
	}
	paused, err := a.state.PausedModules()
	if err != nil {
		return err
	}
	a.pauses = nativecommon.NewPauseSet(paused...)
	return nil
}

func curveOf(model RateModel) *CurveModel {
	if curve, ok := model.(*CurveModel); ok {
		return curve.Clone()
	}
	return nil
}

// SetEmitter configures the sink receiving committed events.
func (a *Auditor) SetEmitter(emitter events.Emitter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

func (a *Auditor) SetLogger(logger *slog.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

// SetBlockTime pins the engine clock. Zero falls back to wall time.
func (a *Auditor) SetBlockTime(ts uint64) {
	a.clockMu.Lock()
	defer a.clockMu.Unlock()
	a.blockTime = ts
}

// Now returns the timestamp used to price and accrue requests.
func (a *Auditor) Now() uint64 {
	a.clockMu.RLock()
	defer a.clockMu.RUnlock()
	if a.blockTime != 0 {
		return a.blockTime
	}
	return uint64(time.Now().Unix())
}

// Config returns the engine configuration.
func (a *Auditor) Config() Config { return a.cfg }

// Calendar returns the maturity grid shared by every market.
func (a *Auditor) Calendar() Calendar { return a.cfg.Calendar }

func (a *Auditor) authorize(caller crypto.Address, action string) error {
	if !a.authorizer.Authorized(caller, action) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, action)
	}
	return nil
}

// EnableMarket lists market with the given collateral factor. A nil factor
// selects DefaultCollateralFactor.
func (a *Auditor) EnableMarket(ctx context.Context, caller crypto.Address, market *Market, collateralFactor *big.Int, symbol, name string) error {
	if market == nil {
		return fmt.Errorf("%w: nil market", ErrInvalidParameter)
	}
	return a.execute(ctx, "enable_market", market.Symbol(), func(req *request) error {
		if err := a.authorize(caller, ActionEnableMarket); err != nil {
			return err
		}
		if market.auditor != a {
			return ErrAuditorMismatch
		}
		if symbol != "" && symbol != market.Symbol() {
			return fmt.Errorf("%w: symbol %q does not match market %q", ErrInvalidParameter, symbol, market.Symbol())
		}
		if _, ok := a.index[market.Symbol()]; ok {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, market.Symbol())
		}
		factor := collateralFactor
		if factor == nil {
			factor = DefaultCollateralFactor
		}
		if err := ValidateCollateralFactor(factor); err != nil {
			return err
		}
		asset := market.Asset()
		if name != "" {
			asset.Name = name
		}
		if err := req.state.PutListing(&Listing{Asset: asset, CollateralFactor: factor, Curve: curveOf(market.model)}); err != nil {
			return err
		}
		req.onCommit(func() {
			market.setName(asset.Name)
			a.index[market.Symbol()] = len(a.listings)
			a.listings = append(a.listings, listing{market: market, collateralFactor: new(big.Int).Set(factor)})
		})
		req.emit(events.LendingMarketListed{
			Market:           market.Symbol(),
			Name:             asset.Name,
			Decimals:         asset.Decimals,
			CollateralFactor: new(big.Int).Set(factor),
		})
		return nil
	})
}

// SetCollateralFactor updates the factor of a listed market.
func (a *Auditor) SetCollateralFactor(ctx context.Context, caller crypto.Address, symbol string, factor *big.Int) error {
	return a.execute(ctx, "set_collateral_factor", symbol, func(req *request) error {
		if err := a.authorize(caller, ActionSetCollateralFactor); err != nil {
			return err
		}
		idx, ok := a.index[symbol]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
		}
		if err := ValidateCollateralFactor(factor); err != nil {
			return err
		}
		updated := new(big.Int).Set(factor)
		market := a.listings[idx].market
		if err := req.state.PutListing(&Listing{Asset: market.Asset(), CollateralFactor: updated, Curve: curveOf(market.model)}); err != nil {
			return err
		}
		req.onCommit(func() { a.listings[idx].collateralFactor = updated })
		req.emit(events.LendingCollateralFactorSet{Market: symbol, Factor: new(big.Int).Set(factor)})
		return nil
	})
}

// SetOracle replaces the price oracle.
func (a *Auditor) SetOracle(ctx context.Context, caller crypto.Address, oracle PriceOracle) error {
	if oracle == nil {
		return ErrNilOracle
	}
	return a.execute(ctx, "set_oracle", "", func(req *request) error {
		if err := a.authorize(caller, ActionSetOracle); err != nil {
			return err
		}
		req.onCommit(func() { a.oracle = oracle })
		req.emit(events.LendingOracleChanged{Oracle: oracleName(oracle)})
		return nil
	})
}

// SetPaused halts or resumes a lending module, e.g. ModuleName or
// "lending.borrow".
func (a *Auditor) SetPaused(ctx context.Context, caller crypto.Address, module string, paused bool) error {
	return a.execute(ctx, "set_paused", "", func(req *request) error {
		if err := a.authorize(caller, ActionPause); err != nil {
			return err
		}
		next := nativecommon.NewPauseSet(a.pauses.Modules()...)
		if !next.SetPaused(module, paused) {
			return nil
		}
		if err := req.state.PutPausedModules(next.Modules()); err != nil {
			return err
		}
		req.onCommit(func() { a.pauses.SetPaused(module, paused) })
		return nil
	})
}

// Paused lists the halted modules.
func (a *Auditor) Paused() []string { return a.pauses.Modules() }

// guard checks the module-wide switch and the operation's own switch.
// Repayments only stop on ModuleName + ".repay".
func (a *Auditor) guard(operation string) error {
	if operation != "repay" {
		if err := nativecommon.Guard(a.pauses, ModuleName); err != nil {
			return err
		}
	}
	return nativecommon.Guard(a.pauses, ModuleName+"."+operation)
}

// Markets returns the listed markets in listing order.
func (a *Auditor) Markets() []*Market {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Market, 0, len(a.listings))
	for _, l := range a.listings {
		out = append(out, l.market)
	}
	return out
}

// Market looks up a listed market by symbol.
func (a *Auditor) Market(symbol string) (*Market, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.index[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return a.listings[idx].market, nil
}

// CollateralFactor returns the factor of a listed market.
func (a *Auditor) CollateralFactor(symbol string) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, err := a.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.collateralFactor), nil
}

func (a *Auditor) lookup(symbol string) (*listing, error) {
	idx, ok := a.index[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return &a.listings[idx], nil
}

// EnteredMarkets lists the markets counted towards account's liquidity.
func (a *Auditor) EnteredMarkets(ctx context.Context, account crypto.Address) ([]string, error) {
	var out []string
	err := a.view(ctx, func(req *request) error {
		markets, err := req.state.EnteredMarkets(account)
		out = markets
		return err
	})
	return out, err
}

// EnterMarkets adds markets to account's collateral set. A non-zero poolID
// must be a maturity on the calendar grid.
func (a *Auditor) EnterMarkets(ctx context.Context, account crypto.Address, poolID uint64, markets ...*Market) error {
	return a.execute(ctx, "enter_markets", "", func(req *request) error {
		if poolID != 0 && !a.cfg.Calendar.OnGrid(poolID) {
			return fmt.Errorf("%w: %d is not on the maturity grid", ErrInvalidMaturity, poolID)
		}
		for _, market := range markets {
			if market == nil {
				return fmt.Errorf("%w: nil market", ErrInvalidParameter)
			}
			if _, err := a.lookup(market.Symbol()); err != nil {
				return err
			}
			if err := a.enterMarket(req, account, market.Symbol()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Auditor) enterMarket(req *request, account crypto.Address, symbol string) error {
	entered, err := req.state.EnteredMarkets(account)
	if err != nil {
		return err
	}
	for _, existing := range entered {
		if existing == symbol {
			return nil
		}
	}
	if err := req.state.PutEnteredMarkets(account, append(entered, symbol)); err != nil {
		return err
	}
	req.emit(events.LendingMarketEntered{Market: symbol, Account: account})
	return nil
}

func (a *Auditor) hasEntered(req *request, account crypto.Address, symbol string) (bool, error) {
	entered, err := req.state.EnteredMarkets(account)
	if err != nil {
		return false, err
	}
	for _, existing := range entered {
		if existing == symbol {
			return true, nil
		}
	}
	return false, nil
}

// ExitMarket removes market from account's collateral set. It fails while
// debt is outstanding in the market or when the remaining collateral would
// not cover the account's debt.
func (a *Auditor) ExitMarket(ctx context.Context, account crypto.Address, market *Market) error {
	if market == nil {
		return fmt.Errorf("%w: nil market", ErrInvalidParameter)
	}
	symbol := market.Symbol()
	return a.execute(ctx, "exit_market", symbol, func(req *request) error {
		if _, err := a.lookup(symbol); err != nil {
			return err
		}
		entered, err := req.state.EnteredMarkets(account)
		if err != nil {
			return err
		}
		remaining := make([]string, 0, len(entered))
		for _, existing := range entered {
			if existing != symbol {
				remaining = append(remaining, existing)
			}
		}
		if len(remaining) == len(entered) {
			return nil
		}
		ledger, err := market.loadLedger(req, account)
		if err != nil {
			return err
		}
		if ledger.HasDebt() {
			return fmt.Errorf("%w: outstanding debt in %s", ErrInsufficientLiquidity, symbol)
		}
		if err := req.state.PutEnteredMarkets(account, remaining); err != nil {
			return err
		}
		if err := a.checkLiquidity(req, "exit", account); err != nil {
			return err
		}
		req.emit(events.LendingMarketExited{Market: symbol, Account: account})
		return nil
	})
}

// AccountLiquidity returns the 18-decimal headroom above, or deficit below,
// the collateral requirement of account across its entered markets. A
// non-zero poolID restricts maturity positions to that pool.
func (a *Auditor) AccountLiquidity(ctx context.Context, account crypto.Address, poolID uint64) (*big.Int, *big.Int, error) {
	var liquidity, shortfall *big.Int
	err := a.view(ctx, func(req *request) error {
		var err error
		liquidity, shortfall, err = a.accountLiquidity(req, account, poolID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return liquidity, shortfall, nil
}

func (a *Auditor) accountLiquidity(req *request, account crypto.Address, poolID uint64) (*big.Int, *big.Int, error) {
	entered, err := req.state.EnteredMarkets(account)
	if err != nil {
		return nil, nil, err
	}
	collateral := big.NewInt(0)
	debt := big.NewInt(0)
	for _, symbol := range entered {
		l, err := a.lookup(symbol)
		if err != nil {
			return nil, nil, err
		}
		price, err := a.price(req, symbol)
		if err != nil {
			return nil, nil, err
		}
		weighted, owed, err := l.market.liquidityShare(req, account, poolID, price, l.collateralFactor)
		if err != nil {
			return nil, nil, err
		}
		if collateral, err = checkedAdd(collateral, weighted); err != nil {
			return nil, nil, err
		}
		if debt, err = checkedAdd(debt, owed); err != nil {
			return nil, nil, err
		}
	}
	if collateral.Cmp(debt) >= 0 {
		return collateral.Sub(collateral, debt), big.NewInt(0), nil
	}
	return big.NewInt(0), debt.Sub(debt, collateral), nil
}

func (a *Auditor) price(req *request, symbol string) (*big.Int, error) {
	if a.oracle == nil {
		return nil, ErrNilOracle
	}
	price, err := a.oracle.Price(req.ctx, symbol)
	if err != nil {
		a.metrics.RecordOracleError(symbol)
		return nil, fmt.Errorf("lending: price %s: %w", symbol, err)
	}
	if !positive(price) {
		a.metrics.RecordOracleError(symbol)
		return nil, fmt.Errorf("%w: non-positive price for %s", ErrInvalidParameter, symbol)
	}
	return price, nil
}

// checkLiquidity fails with ErrInsufficientLiquidity when the staged state
// leaves account in shortfall.
func (a *Auditor) checkLiquidity(req *request, check string, account crypto.Address) error {
	_, shortfall, err := a.accountLiquidity(req, account, 0)
	if err != nil {
		return err
	}
	passed := shortfall.Sign() == 0
	a.metrics.ObserveLiquidityCheck(check, passed)
	if !passed {
		return fmt.Errorf("%w: shortfall %s", ErrInsufficientLiquidity, shortfall)
	}
	return nil
}

// authorizeBorrow enters the market for the borrower and requires the
// post-borrow position to be collateralized.
func (a *Auditor) authorizeBorrow(req *request, market *Market, account crypto.Address) error {
	if _, err := a.lookup(market.Symbol()); err != nil {
		return err
	}
	if err := a.enterMarket(req, account, market.Symbol()); err != nil {
		return err
	}
	return a.checkLiquidity(req, "borrow", account)
}

// authorizeRelease covers withdraw, redeem and transfer. Collateral in a
// market the account never entered backs nothing, so the check is skipped.
func (a *Auditor) authorizeRelease(req *request, check string, market *Market, account crypto.Address) error {
	if _, err := a.lookup(market.Symbol()); err != nil {
		return err
	}
	entered, err := a.hasEntered(req, account, market.Symbol())
	if err != nil || !entered {
		return err
	}
	return a.checkLiquidity(req, check, account)
}

// AuthorizeBorrow reports whether account's current position is
// collateralized with market counted towards it.
func (a *Auditor) AuthorizeBorrow(ctx context.Context, market *Market, account crypto.Address) error {
	return a.view(ctx, func(req *request) error { return a.authorizeBorrow(req, market, account) })
}

func (a *Auditor) AuthorizeWithdraw(ctx context.Context, market *Market, account crypto.Address) error {
	return a.view(ctx, func(req *request) error { return a.authorizeRelease(req, "withdraw", market, account) })
}

func (a *Auditor) AuthorizeRedeem(ctx context.Context, market *Market, account crypto.Address) error {
	return a.view(ctx, func(req *request) error { return a.authorizeRelease(req, "redeem", market, account) })
}

func (a *Auditor) AuthorizeTransfer(ctx context.Context, market *Market, account crypto.Address) error {
	return a.view(ctx, func(req *request) error { return a.authorizeRelease(req, "transfer", market, account) })
}

type requestKey struct{}

// request carries the staged ledger, buffered events and clock of one
// serialized engine call.
type request struct {
	ctx     context.Context
	state   *stagedState
	now     uint64
	events  []events.Event
	commits []func()
	touched map[string]*Market
}

func (r *request) emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *request) onCommit(fn func()) {
	r.commits = append(r.commits, fn)
}

func (r *request) touch(m *Market) {
	r.touched[m.Symbol()] = m
}

func (a *Auditor) begin(ctx context.Context) (*request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(requestKey{}) != nil {
		return nil, ErrReentrantCall
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &request{
		ctx:     context.WithValue(ctx, requestKey{}, struct{}{}),
		state:   newStagedState(a.state),
		now:     a.Now(),
		touched: make(map[string]*Market),
	}, nil
}

// execute runs fn as one atomic request. Staged writes, registry updates
// and events take effect only when fn succeeds.
func (a *Auditor) execute(ctx context.Context, operation, market string, fn func(req *request) error) (err error) {
	req, err := a.begin(ctx)
	if err != nil {
		return err
	}
	var finish func(error)
	req.ctx, finish = telemetry.StartLendingSpan(req.ctx, operation, market)
	defer func() { finish(err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	if err := fn(req); err != nil {
		a.metrics.ObserveOperation(market, operation, outcome(err), time.Since(start))
		a.logger.Info("lending request rejected",
			slog.String("operation", operation),
			slog.String("market", market),
			slog.String("error", err.Error()))
		return err
	}
	if err := req.state.commit(); err != nil {
		a.metrics.ObserveOperation(market, operation, "error", time.Since(start))
		a.logger.Error("lending commit failed",
			slog.String("operation", operation),
			slog.String("market", market),
			slog.String("error", err.Error()))
		return fmt.Errorf("lending: commit: %w", err)
	}
	for _, apply := range req.commits {
		apply()
	}
	for _, m := range req.touched {
		if pool, err := m.loadSmartPool(req); err == nil {
			a.metrics.SetSmartPool(m.Symbol(), pool.TotalAssets, pool.Lent)
		}
	}
	for _, evt := range req.events {
		a.metrics.RecordEvent(evt.EventType())
		a.emitter.Emit(evt)
	}
	a.metrics.ObserveOperation(market, operation, "ok", time.Since(start))
	a.logger.Debug("lending request committed",
		slog.String("operation", operation),
		slog.String("market", market),
		slog.Int("events", len(req.events)))
	return nil
}

// view runs fn against a staged copy that is always discarded.
func (a *Auditor) view(ctx context.Context, fn func(req *request) error) error {
	req, err := a.begin(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(req)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case IsEconomic(err):
		return "rejected"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	default:
		return "invalid"
	}
}
