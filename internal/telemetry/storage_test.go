package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/evermore/evermore/internal/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestStorageMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	metrics, err := telemetry.NewStorageMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordUpload(ctx, "Primary", telemetry.OutcomeSuccess, 120*time.Millisecond)
	metrics.RecordUpload(ctx, "Secondary", telemetry.OutcomeSuccess, 300*time.Millisecond)
	metrics.RecordFailover(ctx, "circuit_open")
	metrics.RecordCircuitTransition("primary", "closed", "open")
	metrics.RecordHealthProbe("primary", false)

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumOf(t, got["storage.upload.total"]))
	assert.Equal(t, int64(1), sumOf(t, got["storage.failover.total"]))
	assert.Equal(t, int64(1), sumOf(t, got["storage.circuit.transition"]))
	assert.Equal(t, int64(1), sumOf(t, got["storage.health.probe"]))

	failover := got["storage.failover.total"].Data.(metricdata.Sum[int64])
	require.Len(t, failover.DataPoints, 1)
	reason, ok := failover.DataPoints[0].Attributes.Value(attribute.Key("reason"))
	require.True(t, ok)
	assert.Equal(t, "circuit_open", reason.AsString())

	hist, ok := got["storage.upload.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestStorageMetrics_NilIsNoop(t *testing.T) {
	var metrics *telemetry.StorageMetrics

	assert.NotPanics(t, func() {
		metrics.RecordUpload(context.Background(), "Primary", telemetry.OutcomeSuccess, time.Second)
		metrics.RecordFailover(context.Background(), "unhealthy")
		metrics.RecordCircuitTransition("primary", "open", "half-open")
		metrics.RecordHealthProbe("primary", true)
	})
}

func TestNewStorageMetrics_GlobalMeter(t *testing.T) {
	metrics, err := telemetry.NewStorageMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}
