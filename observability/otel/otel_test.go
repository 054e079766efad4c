package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,bogus, =x,tenant=lend ")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "lend"}, headers)
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd", SampleRatio: 0.5})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)

	_, err = Init(context.Background(), Config{ServiceName: "lendingd", SampleRatio: 1.5})
	require.ErrorIs(t, err, ErrSampleRatio)
}

func TestResourceDescribesDeployment(t *testing.T) {
	res, err := Resource(Config{
		ServiceName: "lendingd",
		Version:     "v0.3.0",
		Environment: "staging",
		Markets:     []string{"weth", "DAI"},
		Database:    "leveldb",
	})
	require.NoError(t, err)

	values := map[attribute.Key]attribute.Value{}
	for _, kv := range res.Attributes() {
		values[kv.Key] = kv.Value
	}
	require.Equal(t, "lendingd", values["service.name"].AsString())
	require.Equal(t, Namespace, values["service.namespace"].AsString())
	require.Equal(t, "v0.3.0", values["service.version"].AsString())
	require.Equal(t, "staging", values["deployment.environment"].AsString())
	require.Equal(t, []string{"DAI", "WETH"}, values[MarketsKey].AsStringSlice())
	require.Equal(t, "leveldb", values[DatabaseKey].AsString())

	bare, err := Resource(Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	for _, kv := range bare.Attributes() {
		require.NotEqual(t, MarketsKey, kv.Key)
		require.NotEqual(t, attribute.Key("service.version"), kv.Key)
	}
}

func TestSamplerRatio(t *testing.T) {
	for _, ratio := range []float64{0, 0.25, 1} {
		sampler, err := Sampler(ratio)
		require.NoError(t, err)
		require.NotNil(t, sampler)
	}
	_, err := Sampler(-0.1)
	require.ErrorIs(t, err, ErrSampleRatio)

	none, err := Sampler(1e-12)
	require.NoError(t, err)
	require.Contains(t, none.Description(), "ParentBased")
}

func TestStartLendingSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, finish := StartLendingSpan(context.Background(), "borrow", "USDC")
	finish(errors.New("insufficient liquidity"))
	_, finish = StartLendingSpan(context.Background(), "deposit", "USDC")
	finish(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "lending.borrow", spans[0].Name)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Equal(t, "lending.deposit", spans[1].Name)
	require.Equal(t, codes.Unset, spans[1].Status.Code)
}
