package routes

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fixedlend/crypto"
	"fixedlend/gateway/middleware"
	"fixedlend/native/lending"
)

// lendingRoutes exposes markets, maturity pools and account positions.
// Mutations act on behalf of the authenticated caller.
type lendingRoutes struct {
	auditor *lending.Auditor
	timeout time.Duration
}

func (lr *lendingRoutes) mountReads(r chi.Router) {
	r.Get("/markets", lr.listMarkets)
	r.Get("/markets/{symbol}", lr.getMarket)
	r.Get("/markets/{symbol}/pools", lr.listPools)
	r.Get("/markets/{symbol}/pools/{poolID}", lr.getPool)
	r.Get("/markets/{symbol}/pools/{poolID}/quote", lr.quote)
	r.Get("/accounts/{account}/markets", lr.enteredMarkets)
	r.Get("/accounts/{account}/markets/{symbol}", lr.position)
	r.Get("/accounts/{account}/liquidity", lr.liquidity)
}

func (lr *lendingRoutes) mountWrites(r chi.Router) {
	r.Post("/markets/{symbol}/deposit", lr.deposit)
	r.Post("/markets/{symbol}/withdraw", lr.withdraw)
	r.Post("/markets/{symbol}/redeem", lr.redeem)
	r.Post("/markets/{symbol}/transfer", lr.transfer)
	r.Post("/markets/{symbol}/enter", lr.enter)
	r.Post("/markets/{symbol}/exit", lr.exit)
	r.Post("/markets/{symbol}/pools/{poolID}/deposit", lr.depositAtMaturity)
	r.Post("/markets/{symbol}/pools/{poolID}/borrow", lr.borrow)
	r.Post("/markets/{symbol}/pools/{poolID}/repay", lr.repay)
	r.Post("/markets/{symbol}/pools/{poolID}/withdraw", lr.withdrawAtMaturity)
}

func (lr *lendingRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := lr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

type marketView struct {
	Symbol           string   `json:"symbol"`
	Name             string   `json:"name"`
	Decimals         uint8    `json:"decimals"`
	CollateralFactor string   `json:"collateralFactor"`
	TotalAssets      string   `json:"totalAssets"`
	TotalShares      string   `json:"totalShares"`
	Lent             string   `json:"lent"`
	Idle             string   `json:"idle"`
	Maturities       []uint64 `json:"maturities"`
}

type poolView struct {
	PoolID             uint64 `json:"poolId"`
	Maturity           string `json:"maturity"`
	Supplied           string `json:"supplied"`
	Borrowed           string `json:"borrowed"`
	SmartPoolBorrowed  string `json:"smartPoolBorrowed"`
	UnassignedEarnings string `json:"unassignedEarnings"`
	LastAccrual        uint64 `json:"lastAccrual"`
}

func (lr *lendingRoutes) marketView(ctx context.Context, market *lending.Market) (marketView, error) {
	sp, err := market.SmartPool(ctx)
	if err != nil {
		return marketView{}, err
	}
	factor, err := lr.auditor.CollateralFactor(market.Symbol())
	if err != nil {
		return marketView{}, err
	}
	asset := market.Asset()
	maturities := sp.Maturities
	if maturities == nil {
		maturities = []uint64{}
	}
	return marketView{
		Symbol:           asset.Symbol,
		Name:             asset.Name,
		Decimals:         asset.Decimals,
		CollateralFactor: lending.FormatFixed(factor, 18),
		TotalAssets:      amountString(sp.TotalAssets),
		TotalShares:      amountString(sp.TotalShares),
		Lent:             amountString(sp.Lent),
		Idle:             amountString(sp.Idle()),
		Maturities:       maturities,
	}, nil
}

func newPoolView(pool *lending.MaturityPool) poolView {
	return poolView{
		PoolID:             pool.PoolID,
		Maturity:           time.Unix(int64(pool.PoolID), 0).UTC().Format(time.RFC3339),
		Supplied:           amountString(pool.Supplied),
		Borrowed:           amountString(pool.Borrowed),
		SmartPoolBorrowed:  amountString(pool.SmartPoolBorrowed),
		UnassignedEarnings: amountString(pool.UnassignedEarnings),
		LastAccrual:        pool.LastAccrual,
	}
}

func (lr *lendingRoutes) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	markets := lr.auditor.Markets()
	out := make([]marketView, 0, len(markets))
	for _, market := range markets {
		view, err := lr.marketView(ctx, market)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": out})
}

func (lr *lendingRoutes) market(w http.ResponseWriter, r *http.Request) (*lending.Market, bool) {
	market, err := lr.auditor.Market(symbolParam(r))
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return market, true
}

func (lr *lendingRoutes) getMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := lr.market(w, r)
	if !ok {
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	view, err := lr.marketView(ctx, market)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (lr *lendingRoutes) listPools(w http.ResponseWriter, r *http.Request) {
	market, ok := lr.market(w, r)
	if !ok {
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	calendar := lr.auditor.Calendar()
	ids := calendar.FuturePools(lr.auditor.Now(), int(calendar.MaxFuturePools))
	out := make([]poolView, 0, len(ids))
	for _, id := range ids {
		pool, err := market.MaturityPool(ctx, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out = append(out, newPoolView(pool))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": out})
}

func (lr *lendingRoutes) getPool(w http.ResponseWriter, r *http.Request) {
	market, ok := lr.market(w, r)
	if !ok {
		return
	}
	poolID, err := poolParam(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !lr.auditor.Calendar().OnGrid(poolID) {
		writeEngineError(w, fmt.Errorf("%w: %d is not on the maturity grid", lending.ErrInvalidMaturity, poolID))
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	pool, err := market.MaturityPool(ctx, poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

// quote previews the fee for ?side=borrow|deposit&amount=.
func (lr *lendingRoutes) quote(w http.ResponseWriter, r *http.Request) {
	market, ok := lr.market(w, r)
	if !ok {
		return
	}
	poolID, err := poolParam(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	side := r.URL.Query().Get("side")
	var fee *big.Int
	switch side {
	case "", "borrow":
		side = "borrow"
		fee, err = market.PreviewBorrowFee(ctx, poolID, amount)
	case "deposit":
		fee, err = market.PreviewDepositFee(ctx, poolID, amount)
	default:
		writeBadRequest(w, errBadSide)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"side":   side,
		"amount": amount.String(),
		"fee":    fee.String(),
	})
}

func (lr *lendingRoutes) enteredMarkets(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	markets, err := lr.auditor.EnteredMarkets(ctx, account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if markets == nil {
		markets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": account.String(), "markets": markets})
}

func (lr *lendingRoutes) position(w http.ResponseWriter, r *http.Request) {
	market, ok := lr.market(w, r)
	if !ok {
		return
	}
	account, err := accountParam(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	poolID, err := poolQuery(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	supplied, borrowed, err := market.AccountSnapshot(ctx, account, poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	shares, err := market.BalanceOf(ctx, account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  account.String(),
		"market":   market.Symbol(),
		"pool":     poolID,
		"shares":   amountString(shares),
		"supplied": amountString(supplied),
		"borrowed": amountString(borrowed),
	})
}

func (lr *lendingRoutes) liquidity(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	poolID, err := poolQuery(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	liquidity, shortfall, err := lr.auditor.AccountLiquidity(ctx, account, poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":   account.String(),
		"liquidity": lending.FormatFixed(liquidity, 18),
		"shortfall": lending.FormatFixed(shortfall, 18),
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Shares string `json:"shares"`
}

type maturityRequest struct {
	Amount   string `json:"amount"`
	FeeBound string `json:"feeBound"`
	Receiver string `json:"receiver"`
}

type enterRequest struct {
	Pool uint64 `json:"pool"`
}

// mutation resolves the caller and market shared by every write handler.
func (lr *lendingRoutes) mutation(w http.ResponseWriter, r *http.Request) (crypto.Address, *lending.Market, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeEngineError(w, errMissingCaller)
		return crypto.Address{}, nil, false
	}
	market, ok := lr.market(w, r)
	if !ok {
		return crypto.Address{}, nil, false
	}
	return caller, market, true
}

func (lr *lendingRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	shares, err := market.Deposit(ctx, caller, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (lr *lendingRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	shares, err := market.Withdraw(ctx, caller, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (lr *lendingRoutes) redeem(w http.ResponseWriter, r *http.Request) {
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, err := parseAmount(req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	assets, err := market.Redeem(ctx, caller, shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": assets.String()})
}

func (lr *lendingRoutes) transfer(w http.ResponseWriter, r *http.Request) {
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := crypto.DecodeAddress(req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	if err := market.Transfer(ctx, caller, to, shares); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String(), "to": to.String()})
}

func (lr *lendingRoutes) enter(w http.ResponseWriter, r *http.Request) {
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return
	}
	var req enterRequest
	if r.ContentLength > 0 {
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	if err := lr.auditor.EnterMarkets(ctx, caller, req.Pool, market); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market": market.Symbol(), "status": "entered"})
}

func (lr *lendingRoutes) exit(w http.ResponseWriter, r *http.Request) {
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	if err := lr.auditor.ExitMarket(ctx, caller, market); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market": market.Symbol(), "status": "exited"})
}

// maturityCall decodes the shared maturity request shape.
func (lr *lendingRoutes) maturityCall(w http.ResponseWriter, r *http.Request) (crypto.Address, *lending.Market, uint64, maturityRequest, *big.Int, *big.Int, bool) {
	var req maturityRequest
	caller, market, ok := lr.mutation(w, r)
	if !ok {
		return caller, nil, 0, req, nil, nil, false
	}
	poolID, err := poolParam(r)
	if err != nil {
		writeEngineError(w, err)
		return caller, nil, 0, req, nil, nil, false
	}
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return caller, nil, 0, req, nil, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return caller, nil, 0, req, nil, nil, false
	}
	bound, err := parseOptionalAmount(req.FeeBound)
	if err != nil {
		writeEngineError(w, err)
		return caller, nil, 0, req, nil, nil, false
	}
	return caller, market, poolID, req, amount, bound, true
}

func (lr *lendingRoutes) depositAtMaturity(w http.ResponseWriter, r *http.Request) {
	caller, market, poolID, _, amount, minFee, ok := lr.maturityCall(w, r)
	if !ok {
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	fee, err := market.DepositToMaturityPool(ctx, caller, poolID, amount, minFee)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fee": fee.String()})
}

func (lr *lendingRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	caller, market, poolID, _, amount, maxFee, ok := lr.maturityCall(w, r)
	if !ok {
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	fee, err := market.BorrowFromMaturityPool(ctx, caller, poolID, amount, maxFee)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	owed := new(big.Int).Add(amount, fee)
	writeJSON(w, http.StatusOK, map[string]string{"fee": fee.String(), "owed": owed.String()})
}

func (lr *lendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	caller, market, poolID, _, amount, _, ok := lr.maturityCall(w, r)
	if !ok {
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	covered, err := market.RepayToMaturityPool(ctx, caller, poolID, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"debtCovered": covered.String()})
}

func (lr *lendingRoutes) withdrawAtMaturity(w http.ResponseWriter, r *http.Request) {
	caller, market, poolID, req, amount, _, ok := lr.maturityCall(w, r)
	if !ok {
		return
	}
	receiver := caller
	if req.Receiver != "" {
		addr, err := crypto.DecodeAddress(req.Receiver)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		receiver = addr
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	assets, err := market.WithdrawFromMaturityPool(ctx, caller, receiver, poolID, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": assets.String(), "receiver": receiver.String()})
}
