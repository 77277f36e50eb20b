package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupTracing_Stdout(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := SetupTracing(context.Background(), TracingConfig{
		ServiceName: "taskgraph-test",
		Exporter:    ExporterStdout,
		Output:      &buf,
	})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "orchestrator.get_status")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "orchestrator.get_status")
	assert.Contains(t, buf.String(), "taskgraph-test")
}

func TestSetupTracing_None(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_UnknownExporter(t *testing.T) {
	_, err := SetupTracing(context.Background(), TracingConfig{Exporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
