package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"fixedlend/config"
	"fixedlend/core/events"
	"fixedlend/core/state"
	"fixedlend/crypto"
	gatewaycfg "fixedlend/gateway/config"
	"fixedlend/gateway/middleware"
	"fixedlend/gateway/routes"
	"fixedlend/integrations/indexer"
	"fixedlend/integrations/webhooks"
	"fixedlend/native/governance"
	"fixedlend/native/lending"
	"fixedlend/native/oracle"
	"fixedlend/storage"
)

// daemon owns every long-lived component of lendingd.
type daemon struct {
	logger     *slog.Logger
	db         storage.Database
	auditor    *lending.Auditor
	roles      *governance.RoleSet
	dispatcher *governance.Dispatcher
	indexer    *indexer.Indexer
	broker     *events.Broker
	webhooks   *webhooks.Dispatcher
	obs        *middleware.Observability
	handler    http.Handler
}

// newDaemon wires storage, the engine, governance, event sinks and the HTTP
// router. executor is the identity that lists configured markets and runs
// matured proposals.
func newDaemon(ctx context.Context, cfg *config.Config, gw gatewaycfg.Config, executor crypto.Address, logger *slog.Logger) (*daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &daemon{logger: logger}
	ready := false
	defer func() {
		if !ready {
			d.Close()
		}
	}()

	var err error
	if d.db, err = openDatabase(cfg); err != nil {
		return nil, err
	}

	d.roles = governance.NewRoleSet()
	d.roles.Grant(governance.RoleAdmin, executor)
	for _, raw := range cfg.Admins {
		admin, decodeErr := crypto.DecodeAddress(strings.TrimSpace(raw))
		if decodeErr != nil {
			return nil, fmt.Errorf("admin %q: %w", raw, decodeErr)
		}
		d.roles.Grant(governance.RoleAdmin, admin)
	}

	engineCfg, err := cfg.Engine.LendingConfig()
	if err != nil {
		return nil, err
	}
	d.auditor, err = lending.NewAuditor(state.NewLendingStore(d.db), d.roles, engineCfg)
	if err != nil {
		return nil, err
	}
	d.auditor.SetLogger(logger.With(slog.String("component", "lending")))

	d.dispatcher = governance.NewDispatcher(d.roles, executor, cfg.Timelock())
	d.dispatcher.SetLogger(logger.With(slog.String("component", "governance")))
	if err := d.dispatcher.SetStore(state.NewGovernanceStore(d.db)); err != nil {
		return nil, err
	}

	d.broker = events.NewBroker(0)
	emitters := events.MultiEmitter{d.broker}
	if driver := strings.TrimSpace(cfg.Indexer.Driver); driver != "" {
		if d.indexer, err = indexer.Open(driver, cfg.Indexer.DSN, logger); err != nil {
			return nil, err
		}
		emitters = append(emitters, d.indexer)
	}
	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		d.webhooks, err = webhooks.NewDispatcher(url, cfg.Webhook.Secret(),
			webhooks.WithLogger(logger),
			webhooks.WithEventTypes(cfg.Webhook.Events...),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, d.webhooks)
	}
	d.auditor.SetEmitter(emitters)
	d.dispatcher.SetEmitter(emitters)

	oracles := state.NewOracleStore(d.db)
	feed, err := loadOracle(oracles, cfg.OracleSnapshot, logger)
	if err != nil {
		return nil, err
	}
	if err := d.auditor.SetOracle(ctx, executor, feed); err != nil {
		return nil, fmt.Errorf("set oracle: %w", err)
	}
	if err := listMarkets(ctx, d.auditor, executor, cfg.Markets, logger); err != nil {
		return nil, err
	}

	d.obs = middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gw.Observability.ServiceName,
		MetricsPrefix: gw.Observability.MetricsPrefix,
		LogRequests:   gw.Observability.LogRequests,
		Tracing:       gw.Observability.Tracing,
		Enabled:       gw.Observability.Metrics || gw.Observability.Tracing,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit, len(gw.RateLimits))
	for _, entry := range gw.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{RequestsPerMinute: entry.RequestsPerMinute, Burst: entry.Burst}
	}

	d.handler, err = routes.New(routes.Config{
		Auditor:    d.auditor,
		Dispatcher: d.dispatcher,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        gw.Auth.Enabled,
			HMACSecret:     gw.Auth.HMACSecret,
			Issuer:         gw.Auth.Issuer,
			Audience:       gw.Auth.Audience,
			ScopeClaim:     gw.Auth.ScopeClaim,
			CallerClaim:    gw.Auth.CallerClaim,
			OptionalPaths:  gw.Auth.OptionalPaths,
			AllowAnonymous: gw.Auth.AllowAnonymous,
			ClockSkew:      gw.Auth.ClockSkew,
		}, logger),
		RateLimiter:    middleware.NewRateLimiter(rateLimits, logger),
		Observability:  d.obs,
		Indexer:        d.indexer,
		Oracles:        oracles,
		Broker:         d.broker,
		RequestTimeout: gw.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	ready = true
	return d, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.Database == config.DatabaseMemory {
		return storage.NewMemDB(), nil
	}
	dir := strings.TrimSpace(cfg.DataDir)
	if dir == "" {
		return nil, errors.New("DataDir required for the leveldb backend")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(dir, "lending"))
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return db, nil
}

// loadOracle prefers the snapshot installed through governance over the
// configured file. Without either the feed starts empty and prices arrive
// through the admin API.
func loadOracle(store *state.OracleStore, path string, logger *slog.Logger) (*oracle.StaticFeed, error) {
	snap, ok, err := store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load stored oracle snapshot: %w", err)
	}
	if ok {
		if strings.TrimSpace(path) != "" {
			logger.Info("using stored oracle snapshot",
				slog.String("name", snap.Name),
				slog.String("ignored", path))
		}
		return snap.Feed()
	}
	if strings.TrimSpace(path) == "" {
		return oracle.NewStaticFeed(""), nil
	}
	return oracle.LoadSnapshot(path)
}

// listMarkets lists configured markets the store has not restored. Restored
// markets keep their stored parameters.
func listMarkets(ctx context.Context, auditor *lending.Auditor, executor crypto.Address, markets []config.MarketConfig, logger *slog.Logger) error {
	for _, mc := range markets {
		asset := mc.Asset()
		if _, err := auditor.Market(asset.Symbol); err == nil {
			logger.Debug("market restored from storage", slog.String("market", asset.Symbol))
			continue
		}
		model, err := mc.RateModel.Model()
		if err != nil {
			return fmt.Errorf("market %s: %w", asset.Symbol, err)
		}
		factor, err := mc.Factor()
		if err != nil {
			return err
		}
		market, err := lending.NewMarket(auditor, asset, model)
		if err != nil {
			return fmt.Errorf("market %s: %w", asset.Symbol, err)
		}
		if err := auditor.EnableMarket(ctx, executor, market, factor, asset.Symbol, asset.Name); err != nil {
			return fmt.Errorf("list market %s: %w", asset.Symbol, err)
		}
	}
	return nil
}

// Close releases storage and event sinks.
func (d *daemon) Close() {
	if d == nil {
		return
	}
	if d.webhooks != nil {
		d.webhooks.Close()
	}
	if d.indexer != nil {
		if err := d.indexer.Close(); err != nil {
			d.logger.Warn("close indexer", slog.Any("error", err))
		}
	}
	if d.db != nil {
		d.db.Close()
	}
}
