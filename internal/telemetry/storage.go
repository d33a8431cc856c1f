package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const storageMeterName = "github.com/evermore/evermore/internal/storage"

// Upload outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// StorageMetrics holds the instruments for the upload path. A nil *StorageMetrics
// records nothing.
type StorageMetrics struct {
	uploadTotal       metric.Int64Counter
	uploadDuration    metric.Float64Histogram
	failoverTotal     metric.Int64Counter
	circuitTransition metric.Int64Counter
	healthProbe       metric.Int64Counter
}

// NewStorageMetrics creates storage instruments on meter, or on the global meter when nil.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	if meter == nil {
		meter = otel.Meter(storageMeterName)
	}

	uploadTotal, err := meter.Int64Counter(
		"storage.upload.total",
		metric.WithDescription("Total number of photo uploads by serving store and outcome"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, err
	}

	uploadDuration, err := meter.Float64Histogram(
		"storage.upload.duration",
		metric.WithDescription("Duration of photo uploads in seconds, failover included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	failoverTotal, err := meter.Int64Counter(
		"storage.failover.total",
		metric.WithDescription("Number of uploads sent to the secondary store"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		return nil, err
	}

	circuitTransition, err := meter.Int64Counter(
		"storage.circuit.transition",
		metric.WithDescription("Number of circuit breaker state changes"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	healthProbe, err := meter.Int64Counter(
		"storage.health.probe",
		metric.WithDescription("Number of live storage health probes"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, err
	}

	return &StorageMetrics{
		uploadTotal:       uploadTotal,
		uploadDuration:    uploadDuration,
		failoverTotal:     failoverTotal,
		circuitTransition: circuitTransition,
		healthProbe:       healthProbe,
	}, nil
}

// RecordUpload records a finished upload. storageType is empty when no store succeeded.
func (m *StorageMetrics) RecordUpload(ctx context.Context, storageType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("storage.type", storageType),
		attribute.String("outcome", outcome),
	)
	ctx = context.WithoutCancel(ctx)
	m.uploadTotal.Add(ctx, 1, attrs)
	m.uploadDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordFailover records an upload routed to the secondary store.
func (m *StorageMetrics) RecordFailover(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.failoverTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCircuitTransition records a breaker state change.
func (m *StorageMetrics) RecordCircuitTransition(name, from, to string) {
	if m == nil {
		return
	}
	m.circuitTransition.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("circuit", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordHealthProbe records a live health probe result.
func (m *StorageMetrics) RecordHealthProbe(store string, healthy bool) {
	if m == nil {
		return
	}
	m.healthProbe.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("store", store),
		attribute.Bool("healthy", healthy),
	))
}
