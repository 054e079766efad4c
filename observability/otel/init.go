package otel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Namespace groups every fixedlend service in trace backends.
const Namespace = "fixedlend"

// Resource attribute keys describing the lending deployment.
const (
	MarketsKey  = attribute.Key("lending.markets")
	DatabaseKey = attribute.Key("lending.database")
)

var ErrSampleRatio = errors.New("telemetry: sample ratio must be within [0, 1]")

// Config selects where lendingd ships engine spans. Export stays off while
// Endpoint is empty so local runs need no collector. Metrics are served by
// the prometheus registry, not through OTLP.
type Config struct {
	ServiceName string
	Version     string
	Environment string
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	// SampleRatio is the share of root traces kept. Zero keeps all.
	SampleRatio float64
	// Markets and Database describe the engine in the exported resource.
	Markets  []string
	Database string
}

// Resource builds the resource attached to every exported span.
func Resource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceNamespaceKey.String(Namespace),
	}
	if v := strings.TrimSpace(cfg.Version); v != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(v))
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(env))
	}
	if len(cfg.Markets) > 0 {
		markets := make([]string, 0, len(cfg.Markets))
		for _, symbol := range cfg.Markets {
			markets = append(markets, strings.ToUpper(strings.TrimSpace(symbol)))
		}
		sort.Strings(markets)
		attrs = append(attrs, MarketsKey.StringSlice(markets))
	}
	if db := strings.TrimSpace(cfg.Database); db != "" {
		attrs = append(attrs, DatabaseKey.String(db))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// Sampler keeps SampleRatio of root traces and follows the parent decision
// for everything else.
func Sampler(ratio float64) (sdktrace.Sampler, error) {
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("%w: %v", ErrSampleRatio, ratio)
	}
	if ratio == 0 {
		ratio = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
}

// Init installs the W3C propagators and, when an endpoint is configured, an
// OTLP/HTTP trace pipeline as the global tracer provider. The returned
// function flushes pending spans.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, fmt.Errorf("service name required for telemetry")
	}
	sampler, err := Sampler(cfg.SampleRatio)
	if err != nil {
		return nil, err
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := Resource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// ParseHeaders reads the OTEL_EXPORTER_OTLP_HEADERS form (key=value,foo=bar).
// Pairs without a key are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
