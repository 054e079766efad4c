package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fixedlend/crypto"
	"fixedlend/native/governance"
	"fixedlend/native/lending"
	"fixedlend/native/oracle"
)

const requestLimit = 1 << 20 // 1 MiB

var (
	errMissingCaller = errors.New("authenticated caller required")
	errBadAmount     = errors.New("amount must be a base-unit integer")
	errBadSide       = errors.New("side must be borrow or deposit")
	errBadLimit      = errors.New("limit must be a non-negative integer")
	errBadFormat     = errors.New("format must be json, csv or jsonl")
)

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	data, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

// statusFor maps engine, governance and oracle errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, lending.ErrUnauthorized), errors.Is(err, governance.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrMarketNotListed), errors.Is(err, governance.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrTooMuchSlippage), errors.Is(err, lending.ErrDebtExceeded):
		return http.StatusUnprocessableEntity
	case lending.IsEconomic(err),
		errors.Is(err, lending.ErrMarketAlreadyListed),
		errors.Is(err, governance.ErrTimelockNotElapsed),
		errors.Is(err, governance.ErrProposalNotQueued):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrUnknownAsset), errors.Is(err, lending.ErrNilOracle):
		return http.StatusServiceUnavailable
	case lending.IsConfiguration(err), errors.Is(err, errBadAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errBadAmount
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBadAmount, raw)
	}
	return v, nil
}

// parseOptionalAmount returns nil for an empty bound.
func parseOptionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
}

func poolParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "poolID"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: pool %q", lending.ErrInvalidMaturity, raw)
	}
	return id, nil
}

func poolQuery(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("pool"))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: pool %q", lending.ErrInvalidMaturity, raw)
	}
	return id, nil
}

func accountParam(r *http.Request) (crypto.Address, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "account"))
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: account %q", lending.ErrInvalidParameter, raw)
	}
	return addr, nil
}
