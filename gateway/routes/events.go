package routes

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fixedlend/integrations/exports"
	"fixedlend/integrations/indexer"
)

// eventRoutes serves the indexed event history as JSON, CSV or JSON Lines.
type eventRoutes struct {
	indexer *indexer.Indexer
}

type eventView struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Market     string            `json:"market,omitempty"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt string            `json:"recordedAt"`
}

func (er *eventRoutes) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := indexer.Filter{
		Type:    strings.TrimSpace(query.Get("type")),
		Market:  strings.TrimSpace(query.Get("market")),
		Account: strings.TrimSpace(query.Get("account")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, errBadLimit)
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		filter.Since = since
	}
	records, err := er.indexer.Query(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	switch format := strings.ToLower(query.Get("format")); format {
	case "csv":
		data, checksum, err := exports.EventsCSV(records)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeExport(w, "text/csv", checksum, data)
	case "jsonl":
		data, checksum, err := exports.EventsJSONL(records)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeExport(w, "application/x-ndjson", checksum, data)
	case "", "json":
		out := make([]eventView, 0, len(records))
		for _, rec := range records {
			attrs, err := rec.Decode()
			if err != nil {
				writeEngineError(w, err)
				return
			}
			out = append(out, eventView{
				ID:         rec.ID,
				Type:       rec.Type,
				Market:     rec.Market,
				Account:    rec.Account,
				Attributes: attrs,
				RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339Nano),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
	default:
		writeBadRequest(w, errBadFormat)
	}
}

func writeExport(w http.ResponseWriter, contentType, checksum string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
