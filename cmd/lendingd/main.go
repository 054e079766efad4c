package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fixedlend/config"
	"fixedlend/crypto"
	gatewaycfg "fixedlend/gateway/config"
	"fixedlend/observability/logging"
	telemetry "fixedlend/observability/otel"
)

const shutdownTimeout = 10 * time.Second

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	var gatewayPath string
	flag.StringVar(&cfgPath, "config", "./lendingd.toml", "path to the daemon configuration")
	flag.StringVar(&gatewayPath, "gateway", "", "path to the HTTP gateway configuration (overrides GatewayConfig)")
	flag.Parse()

	if err := run(cfgPath, gatewayPath); err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, gatewayPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions("lendingd", cfg.Observability.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Observability.Environment,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		SampleRatio: cfg.Observability.TraceSampleRatio,
		Version:     version,
		Markets:     marketSymbols(cfg.Markets),
		Database:    cfg.Database,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	if strings.TrimSpace(gatewayPath) == "" {
		gatewayPath = cfg.GatewayConfig
	}
	gw, err := gatewaycfg.Load(gatewayPath)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	key, err := crypto.LoadExecutorKey(cfg.ExecutorKeystorePath, cfg.PassphraseEnv())
	if err != nil {
		return fmt.Errorf("load executor key: %w", err)
	}
	executor := key.PubKey().Address()

	d, err := newDaemon(ctx, cfg, gw, executor, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	listen := strings.TrimSpace(cfg.ListenAddress)
	if listen == "" {
		listen = gw.ListenAddress
	}
	server := &http.Server{
		Addr:         listen,
		Handler:      d.handler,
		ReadTimeout:  gw.ReadTimeout,
		WriteTimeout: gw.WriteTimeout,
		IdleTimeout:  gw.IdleTimeout,
	}
	servers := []*http.Server{server}
	errCh := make(chan error, 2)

	go func() {
		logger.Info("lendingd listening",
			slog.String("address", listen),
			slog.String("executor", executor.String()),
			slog.Int("markets", len(d.auditor.Markets())))
		var serveErr error
		if gw.Security.TLSCertFile != "" {
			serveErr = server.ListenAndServeTLS(gw.Security.TLSCertFile, gw.Security.TLSKeyFile)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve: %w", serveErr)
		}
	}()

	if addr := strings.TrimSpace(cfg.Observability.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.obs.MetricsHandler())
		metricsServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, metricsServer)
		go func() {
			logger.Info("metrics listening", slog.String("address", addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve metrics: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", slog.String("address", srv.Addr), slog.Any("error", err))
		}
	}
	return runErr
}

func marketSymbols(markets []config.MarketConfig) []string {
	symbols := make([]string, 0, len(markets))
	for _, mc := range markets {
		symbols = append(symbols, mc.Asset().Symbol)
	}
	return symbols
}
