package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracerNoneKeepsGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "api"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestInitTracerStdout(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "worker", Exporter: ExporterStdout, SampleRatio: 0.5})
	require.NoError(t, err)
	require.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerRejectsBadConfig(t *testing.T) {
	_, err := InitTracer(context.Background(), Config{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unknown exporter")

	_, err = InitTracer(context.Background(), Config{Exporter: ExporterOTLP, Endpoint: "not a url"})
	require.ErrorContains(t, err, "invalid otlp endpoint")
}
