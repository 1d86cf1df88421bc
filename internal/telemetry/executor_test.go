package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newInstrumented(t *testing.T, next sdk.CommandExecutor) (*InstrumentedExecutor, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	ie, err := NewInstrumentedExecutor(next,
		WithTracerProvider(tp),
		WithMeterProvider(noop.NewMeterProvider()),
	)
	require.NoError(t, err)
	return ie, sr
}

func TestInstrumentedExecutor(t *testing.T) {
	var gotName string
	var gotArgs any
	ie, sr := newInstrumented(t, sdk.ExecutorFunc(func(_ context.Context, name string, args any) (any, error) {
		gotName, gotArgs = name, args
		return "done", nil
	}))

	res, err := ie.Execute(context.Background(), "docmanager:open", map[string]any{"path": "a.ipynb"})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, "docmanager:open", gotName)
	assert.Equal(t, map[string]any{"path": "a.ipynb"}, gotArgs)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "command.Execute", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), CommandAttribute.String("docmanager:open"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestInstrumentedExecutorError(t *testing.T) {
	boom := errors.New("boom")
	ie, sr := newInstrumented(t, sdk.ExecutorFunc(func(context.Context, string, any) (any, error) {
		return nil, boom
	}))

	_, err := ie.Execute(context.Background(), "nope:nope", nil)
	assert.Same(t, boom, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestInstrumentedExecutorRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	ie, err := NewInstrumentedExecutor(
		sdk.ExecutorFunc(func(context.Context, string, any) (any, error) { return nil, nil }),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
	)
	require.NoError(t, err)

	for range 2 {
		_, err := ie.Execute(context.Background(), "docmanager:open", nil)
		require.NoError(t, err)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = true
		switch data := m.Data.(type) {
		case metricdata.Sum[int64]:
			require.Len(t, data.DataPoints, 1)
			assert.Equal(t, int64(2), data.DataPoints[0].Value)
		case metricdata.Histogram[float64]:
			require.Len(t, data.DataPoints, 1)
			assert.Equal(t, uint64(2), data.DataPoints[0].Count)
		}
	}
	assert.True(t, found["labcmd.command.count"])
	assert.True(t, found["labcmd.command.duration"])
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "labcmd-gateway")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
