package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fixedlend/core/events"
	"fixedlend/gateway/middleware"
	"fixedlend/integrations/indexer"
	"fixedlend/native/governance"
	"fixedlend/native/lending"
)

const (
	// ScopeWrite is required for account mutations.
	ScopeWrite = "lending:write"
	// ScopeAdmin is required to submit privileged actions.
	ScopeAdmin = "lending:admin"

	// Rate limit keys matched against the gateway configuration.
	RateLimitRead  = "read"
	RateLimitWrite = "write"
	RateLimitAdmin = "admin"
)

type Config struct {
	Auditor        *lending.Auditor
	Dispatcher     *governance.Dispatcher
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	Indexer        *indexer.Indexer
	Oracles        SnapshotStore
	Broker         *events.Broker
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// New assembles the lending HTTP API. Reads are public; writes and admin
// actions require an authenticated caller with the matching scope. The
// event history is served only when an indexer is configured and the live
// event stream only when a broker is.
func New(cfg Config) (http.Handler, error) {
	if cfg.Auditor == nil {
		return nil, errors.New("routes: auditor required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("routes: governance dispatcher required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lr := &lendingRoutes{auditor: cfg.Auditor, timeout: cfg.RequestTimeout}
	ar := &adminRoutes{
		auditor:    cfg.Auditor,
		dispatcher: cfg.Dispatcher,
		oracles:    cfg.Oracles,
		logger:     logger,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
	ar.register()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	limit := func(sr chi.Router, key string) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(key))
		}
	}
	authenticate := func(sr chi.Router, scopes ...string) {
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware(scopes...))
		}
	}

	r.Route("/v1/lending", func(sr chi.Router) {
		sr.Group(func(g chi.Router) {
			limit(g, RateLimitRead)
			lr.mountReads(g)
			if cfg.Indexer != nil {
				er := &eventRoutes{indexer: cfg.Indexer}
				g.Get("/events", er.list)
			}
			if cfg.Broker != nil {
				st := &streamRoutes{broker: cfg.Broker, logger: logger}
				g.Get("/events/stream", st.stream)
			}
		})
		sr.Group(func(g chi.Router) {
			authenticate(g, ScopeWrite)
			limit(g, RateLimitWrite)
			lr.mountWrites(g)
		})
		sr.Route("/admin", func(g chi.Router) {
			authenticate(g, ScopeAdmin)
			limit(g, RateLimitAdmin)
			ar.mount(g)
		})
	})

	return r, nil
}
