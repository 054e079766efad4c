package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fixedlend/config"
	"fixedlend/crypto"
	"fixedlend/gateway/middleware"
	"fixedlend/native/governance"
	"fixedlend/native/lending"
	"fixedlend/native/oracle"
)

// SnapshotStore keeps the oracle snapshot installed through governance.
type SnapshotStore interface {
	PutSnapshot(snap oracle.Snapshot) error
}

// adminRoutes submits privileged engine changes through the governance
// dispatcher. Admins apply them immediately; other callers queue a proposal
// carrying the JSON request as its payload.
type adminRoutes struct {
	auditor    *lending.Auditor
	dispatcher *governance.Dispatcher
	oracles    SnapshotStore
	logger     *slog.Logger
	nowFn      func() time.Time
}

func (ar *adminRoutes) mount(r chi.Router) {
	r.Post("/markets", ar.enableMarket)
	r.Post("/markets/{symbol}/collateral-factor", ar.setCollateralFactor)
	r.Post("/oracle", ar.setOracle)
	r.Post("/pause", ar.setPaused)
	r.Get("/paused", ar.paused)
	r.Get("/proposals", ar.listProposals)
	r.Get("/proposals/{id}", ar.getProposal)
	r.Post("/proposals/{id}/execute", ar.executeProposal)
	r.Post("/proposals/{id}/cancel", ar.cancelProposal)
}

// register binds the handlers that apply admin payloads, whether submitted
// by an admin or replayed from a queued proposal.
func (ar *adminRoutes) register() {
	ar.dispatcher.Register(lending.ActionEnableMarket, ar.applyEnableMarket)
	ar.dispatcher.Register(lending.ActionSetCollateralFactor, ar.applyCollateralFactor)
	ar.dispatcher.Register(lending.ActionSetOracle, ar.applyOracle)
	ar.dispatcher.Register(lending.ActionPause, ar.applyPause)
}

type rateModelRequest struct {
	CurveA            string `json:"curveA"`
	CurveB            string `json:"curveB"`
	MaxUtilization    string `json:"maxUtilization"`
	PenaltyRatePerDay string `json:"penaltyRatePerDay"`
	SmartPoolRate     string `json:"smartPoolRate"`
}

type enableMarketRequest struct {
	Symbol           string           `json:"symbol"`
	Name             string           `json:"name"`
	Decimals         uint8            `json:"decimals"`
	CollateralFactor string           `json:"collateralFactor"`
	RateModel        rateModelRequest `json:"rateModel"`
}

func (req enableMarketRequest) marketConfig() config.MarketConfig {
	return config.MarketConfig{
		Symbol:           req.Symbol,
		Name:             req.Name,
		Decimals:         req.Decimals,
		CollateralFactor: req.CollateralFactor,
		RateModel: config.RateModelConfig{
			CurveA:            req.RateModel.CurveA,
			CurveB:            req.RateModel.CurveB,
			MaxUtilization:    req.RateModel.MaxUtilization,
			PenaltyRatePerDay: req.RateModel.PenaltyRatePerDay,
			SmartPoolRate:     req.RateModel.SmartPoolRate,
		},
	}
}

type listing struct {
	asset  lending.Asset
	factor *big.Int
	model  lending.RateModel
}

func (req enableMarketRequest) listing() (listing, error) {
	mc := req.marketConfig()
	asset := mc.Asset()
	if asset.Symbol == "" {
		return listing{}, fmt.Errorf("%w: symbol required", lending.ErrInvalidParameter)
	}
	factor, err := mc.Factor()
	if err != nil {
		return listing{}, err
	}
	model, err := mc.RateModel.Model()
	if err != nil {
		return listing{}, err
	}
	return listing{asset: asset, factor: factor, model: model}, nil
}

type factorRequest struct {
	Symbol           string `json:"symbol,omitempty"`
	CollateralFactor string `json:"collateralFactor"`
}

func (req factorRequest) factor() (*big.Int, error) {
	factor, err := lending.ParseWad(req.CollateralFactor)
	if err != nil {
		return nil, err
	}
	if err := lending.ValidateCollateralFactor(factor); err != nil {
		return nil, err
	}
	return factor, nil
}

type oracleRequest struct {
	Name   string            `json:"name"`
	MaxAge string            `json:"maxAge"`
	Prices map[string]string `json:"prices"`
}

func (req oracleRequest) snapshot(updated time.Time) (oracle.Snapshot, error) {
	snap := oracle.Snapshot{Name: req.Name, Prices: req.Prices, UpdatedAt: updated}
	if strings.TrimSpace(req.MaxAge) != "" {
		maxAge, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			return oracle.Snapshot{}, fmt.Errorf("%w: maxAge: %v", lending.ErrInvalidParameter, err)
		}
		snap.MaxAge = maxAge
	}
	return snap, nil
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (req pauseRequest) module() (string, error) {
	module := strings.TrimSpace(req.Module)
	if module == "" {
		module = lending.ModuleName
	}
	if module != lending.ModuleName && !strings.HasPrefix(module, lending.ModuleName+".") {
		return "", fmt.Errorf("%w: unknown module %q", lending.ErrInvalidParameter, module)
	}
	return module, nil
}

type proposalView struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Summary     string `json:"summary"`
	Proposer    string `json:"proposer"`
	Status      string `json:"status"`
	SubmitTime  string `json:"submitTime"`
	TimelockEnd string `json:"timelockEnd"`
	Error       string `json:"error,omitempty"`
}

func newProposalView(p *governance.Proposal) proposalView {
	return proposalView{
		ID:          p.ID,
		Action:      p.Action,
		Summary:     p.Summary,
		Proposer:    p.Proposer.String(),
		Status:      p.Status.String(),
		SubmitTime:  p.SubmitTime.UTC().Format(time.RFC3339),
		TimelockEnd: p.TimelockEnd.UTC().Format(time.RFC3339),
		Error:       p.Error,
	}
}

func decodePayload(payload []byte, out interface{}) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: payload: %v", lending.ErrInvalidParameter, err)
	}
	return nil
}

// submit routes req through the dispatcher and writes 200 when it ran or
// 202 with the queued proposal.
func (ar *adminRoutes) submit(w http.ResponseWriter, r *http.Request, action, summary string, req interface{}) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeEngineError(w, errMissingCaller)
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	// Queued actions outlive the request.
	ctx := context.WithoutCancel(r.Context())
	outcome, err := ar.dispatcher.ExecuteOrPropose(ctx, caller, action, summary, payload)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if outcome.Executed {
		writeJSON(w, http.StatusOK, map[string]string{"action": action, "status": "executed"})
		return
	}
	ar.logger.Info("admin action queued",
		slog.String("action", action),
		slog.String("id", outcome.Proposal.ID))
	writeJSON(w, http.StatusAccepted, newProposalView(outcome.Proposal))
}

func (ar *adminRoutes) enableMarket(w http.ResponseWriter, r *http.Request) {
	var req enableMarketRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	l, err := req.listing()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	summary := fmt.Sprintf("list %s (%d decimals)", l.asset.Symbol, l.asset.Decimals)
	ar.submit(w, r, lending.ActionEnableMarket, summary, req)
}

func (ar *adminRoutes) applyEnableMarket(ctx context.Context, caller crypto.Address, payload []byte) error {
	var req enableMarketRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	l, err := req.listing()
	if err != nil {
		return err
	}
	market, err := lending.NewMarket(ar.auditor, l.asset, l.model)
	if err != nil {
		return err
	}
	return ar.auditor.EnableMarket(ctx, caller, market, l.factor, l.asset.Symbol, l.asset.Name)
}

func (ar *adminRoutes) setCollateralFactor(w http.ResponseWriter, r *http.Request) {
	var req factorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	req.Symbol = symbolParam(r)
	if _, err := req.factor(); err != nil {
		writeEngineError(w, err)
		return
	}
	summary := fmt.Sprintf("set %s collateral factor to %s", req.Symbol, strings.TrimSpace(req.CollateralFactor))
	ar.submit(w, r, lending.ActionSetCollateralFactor, summary, req)
}

func (ar *adminRoutes) applyCollateralFactor(ctx context.Context, caller crypto.Address, payload []byte) error {
	var req factorRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	factor, err := req.factor()
	if err != nil {
		return err
	}
	return ar.auditor.SetCollateralFactor(ctx, caller, req.Symbol, factor)
}

func (ar *adminRoutes) setOracle(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	snap, err := req.snapshot(ar.nowFn())
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	feed, err := snap.Feed()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	summary := fmt.Sprintf("switch oracle to %s", feed.Name())
	ar.submit(w, r, lending.ActionSetOracle, summary, req)
}

// applyOracle installs the feed priced as of execution and stores the
// snapshot for the next start.
func (ar *adminRoutes) applyOracle(ctx context.Context, caller crypto.Address, payload []byte) error {
	var req oracleRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	snap, err := req.snapshot(ar.nowFn())
	if err != nil {
		return err
	}
	feed, err := snap.Feed()
	if err != nil {
		return err
	}
	if err := ar.auditor.SetOracle(ctx, caller, feed); err != nil {
		return err
	}
	if ar.oracles == nil {
		return nil
	}
	if err := ar.oracles.PutSnapshot(snap); err != nil {
		return fmt.Errorf("store oracle snapshot: %w", err)
	}
	return nil
}

func (ar *adminRoutes) setPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	module, err := req.module()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	req.Module = module
	summary := fmt.Sprintf("set %s paused=%t", module, req.Paused)
	ar.submit(w, r, lending.ActionPause, summary, req)
}

func (ar *adminRoutes) applyPause(ctx context.Context, caller crypto.Address, payload []byte) error {
	var req pauseRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	module, err := req.module()
	if err != nil {
		return err
	}
	return ar.auditor.SetPaused(ctx, caller, module, req.Paused)
}

func (ar *adminRoutes) paused(w http.ResponseWriter, _ *http.Request) {
	modules := ar.auditor.Paused()
	if modules == nil {
		modules = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": modules})
}

func (ar *adminRoutes) listProposals(w http.ResponseWriter, _ *http.Request) {
	proposals := ar.dispatcher.Proposals()
	out := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, newProposalView(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proposals": out})
}

func (ar *adminRoutes) getProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := ar.dispatcher.Proposal(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (ar *adminRoutes) executeProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := ar.dispatcher.Execute(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	proposal, err := ar.dispatcher.Proposal(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (ar *adminRoutes) cancelProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeEngineError(w, errMissingCaller)
		return
	}
	id := chi.URLParam(r, "id")
	if err := ar.dispatcher.Cancel(caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": governance.ProposalStatusCancelled.String()})
}
