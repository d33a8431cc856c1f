// Package upload stores photos on the primary object store and fails over to the
// secondary store when the primary is unhealthy, tripped or failing.
package upload

import (
	"context"
	"fmt"
	"mime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage"
	"github.com/evermore/evermore/internal/telemetry"
)

const tracerName = "github.com/evermore/evermore/internal/upload"

// Failover reasons, used in logs and metrics.
const (
	reasonNotInitialized = "not_initialized"
	reasonUnhealthy      = "unhealthy"
	reasonCircuitOpen    = "circuit_open"
	reasonPrimaryError   = "primary_error"
)

// SecondaryStore is the fallback store. It serves objects from its own public URL.
type SecondaryStore interface {
	storage.Store
	PublicURL(bucket, key string) string
}

// ServiceConfig holds configuration for the upload service.
type ServiceConfig struct {
	// Secondary is the fallback store. Optional; without it a primary failure is final.
	Secondary       SecondaryStore
	SecondaryBucket string

	// Breaker configures the primary's circuit breaker. Zero values take the breaker defaults.
	Breaker resilience.CircuitBreakerConfig

	// HealthTTL is how long a health probe result is trusted. Default: 5 minutes
	HealthTTL time.Duration

	// PrimaryFactory builds the primary client in Initialize. Default: NewS3Primary
	PrimaryFactory PrimaryFactory

	// AllowedContentTypes lists accepted media types. Default: DefaultAllowedContentTypes
	AllowedContentTypes []string

	Clock   resilience.Clock
	Logger  zerolog.Logger
	Metrics *telemetry.StorageMetrics
	Tracer  trace.Tracer
}

// Service uploads photos with primary to secondary failover. Safe for concurrent use.
type Service struct {
	secondary       SecondaryStore
	secondaryBucket string
	registry        *resilience.Registry
	breakerCfg      resilience.CircuitBreakerConfig
	health          *storage.HealthMonitor
	factory         PrimaryFactory
	allowed         []string
	clock           resilience.Clock
	logger          zerolog.Logger
	metrics         *telemetry.StorageMetrics
	tracer          trace.Tracer

	mu      sync.RWMutex
	primary storage.Store
	cfg     Config
}

// StatusReport is a point-in-time view of both stores and the primary's breaker.
type StatusReport struct {
	Initialized bool                         `json:"initialized"`
	Primary     *storage.HealthStatus        `json:"primary,omitempty"`
	Secondary   *storage.HealthStatus        `json:"secondary,omitempty"`
	Breakers    []resilience.BreakerSnapshot `json:"breakers"`
}

// NewService creates an upload service. Initialize must be called before the primary is used.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = resilience.SystemClock
	}
	if cfg.PrimaryFactory == nil {
		cfg.PrimaryFactory = NewS3Primary
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = DefaultAllowedContentTypes
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	s := &Service{
		secondary:       cfg.Secondary,
		secondaryBucket: cfg.SecondaryBucket,
		factory:         cfg.PrimaryFactory,
		allowed:         cfg.AllowedContentTypes,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
	}

	breakerCfg := cfg.Breaker
	breakerCfg.Name = storage.PrimaryStore
	if breakerCfg.Clock == nil {
		breakerCfg.Clock = cfg.Clock
	}
	hook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		s.logger.Warn().
			Str("circuit", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
		s.metrics.RecordCircuitTransition(name, from.String(), to.String())
		if hook != nil {
			hook(name, from, to)
		}
	}
	s.breakerCfg = breakerCfg

	s.registry = resilience.NewRegistry()

	s.health = storage.NewHealthMonitor(storage.HealthMonitorConfig{
		TTL:     cfg.HealthTTL,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
		OnProbe: s.metrics.RecordHealthProbe,
	})
	if s.secondary != nil {
		s.health.Register(storage.SecondaryStore, func(ctx context.Context) error {
			return s.secondary.HeadBucket(ctx, s.secondaryBucket)
		})
	}

	return s
}

// Initialize validates cfg and builds the primary client. Every missing field is listed
// in a single CONFIGURATION_ERROR. A client construction failure is INITIALIZATION_ERROR.
func (s *Service) Initialize(ctx context.Context, cfg Config) error {
	if missing := cfg.Missing(); len(missing) > 0 {
		return resilience.NewError(resilience.CodeConfiguration,
			"missing required storage configuration: "+strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}

	primary, err := s.factory(ctx, cfg)
	if err != nil {
		return resilience.WrapError(resilience.CodeInitialization, "failed to create primary storage client", err)
	}

	s.mu.Lock()
	s.primary = primary
	s.cfg = cfg
	s.mu.Unlock()

	s.health.Register(storage.PrimaryStore, func(ctx context.Context) error {
		return primary.HeadBucket(ctx, cfg.Bucket)
	})

	s.logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Str("cdn_domain", cfg.CDNDomain).
		Msg("primary storage initialized")
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary != nil
}

// Upload stores body under a fresh photos/ key. The primary is used when it is healthy
// and its breaker admits the call; any primary failure falls through to the secondary.
// When both fail, the secondary's error is returned with failover details.
func (s *Service) Upload(ctx context.Context, body []byte, fileName, contentType string) (*storage.UploadResult, error) {
	start := s.clock.Now()

	ctx, span := s.tracer.Start(ctx, "upload.Upload", trace.WithAttributes(
		attribute.String("upload.content_type", contentType),
		attribute.Int("upload.size", len(body)),
	))
	defer span.End()

	result, err := s.upload(ctx, span, body, fileName, contentType)

	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(resilience.CodeOf(err)))
		if !resilience.HasCode(err, resilience.CodeValidation) {
			s.metrics.RecordUpload(ctx, "", telemetry.OutcomeFailure, elapsed)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("storage.type", result.StorageType.String()),
		attribute.String("storage.key", result.Key),
	)
	s.metrics.RecordUpload(ctx, result.StorageType.String(), telemetry.OutcomeSuccess, elapsed)
	return result, nil
}

func (s *Service) upload(ctx context.Context, span trace.Span, body []byte, fileName, contentType string) (*storage.UploadResult, error) {
	mediaType, err := s.validate(fileName, contentType)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	primary, cfg := s.primary, s.cfg
	s.mu.RUnlock()

	if primary == nil && s.secondary == nil {
		return nil, resilience.NewError(resilience.CodeClientNotInit, "storage client not initialized")
	}

	key := storage.PhotoKey(s.clock.Now(), fileName)
	in := storage.PutInput{
		Key:          key,
		Body:         body,
		ContentType:  mediaType,
		CacheControl: storage.DefaultCacheControl,
	}
	logger := s.logger.With().Str("key", key).Logger()

	var (
		reason     string
		primaryErr error
	)
	switch {
	case primary == nil:
		reason = reasonNotInitialized
	case !s.health.IsHealthy(ctx, storage.PrimaryStore):
		reason = reasonUnhealthy
	default:
		in.Bucket = cfg.Bucket
		primaryErr = s.registry.GetOrCreate(storage.PrimaryStore, s.breakerCfg).Do(ctx, func(ctx context.Context) error {
			return primary.Put(ctx, in)
		})
		if primaryErr == nil {
			logger.Info().Str("storage_type", storage.TypePrimary.String()).Msg("photo uploaded")
			return &storage.UploadResult{
				URL:         storage.CDNURL(cfg.CDNDomain, key),
				Key:         key,
				StorageType: storage.TypePrimary,
			}, nil
		}
		reason = reasonPrimaryError
		if resilience.HasCode(primaryErr, resilience.CodeCircuitOpen) {
			reason = reasonCircuitOpen
		}
	}

	span.SetAttributes(
		attribute.Bool("storage.failover", true),
		attribute.String("storage.failover_reason", reason),
	)

	if s.secondary == nil {
		logger.Error().Err(primaryErr).Str("reason", reason).Msg("primary upload failed and no secondary store is configured")
		return nil, primaryFailure(primaryErr, reason)
	}

	logger.Warn().Err(primaryErr).Str("reason", reason).Msg("failing over to secondary store")
	s.metrics.RecordFailover(ctx, reason)

	in.Bucket = s.secondaryBucket
	url, err := s.putSecondary(ctx, in)
	if err != nil {
		logger.Error().Err(err).Str("reason", reason).Msg("secondary upload failed")

		opErr := resilience.WrapError(resilience.CodeStorage, "secondary upload failed", err).
			WithDetail("failover", true).
			WithDetail("reason", reason).
			WithDetail("primaryAttempted", primaryErr != nil)
		if primaryErr != nil {
			opErr = opErr.WithDetail("primaryError", primaryErr.Error())
		}
		return nil, opErr
	}

	logger.Info().Str("storage_type", storage.TypeSecondary.String()).Str("reason", reason).Msg("photo uploaded")
	return &storage.UploadResult{
		URL:         url,
		Key:         key,
		StorageType: storage.TypeSecondary,
	}, nil
}

// putSecondary writes in to the secondary store and returns the object's public URL.
// A panic in the secondary client is returned as a STORAGE_ERROR.
func (s *Service) putSecondary(ctx context.Context, in storage.PutInput) (url string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = resilience.NewError(resilience.CodeStorage, fmt.Sprintf("secondary store panicked: %v", r))
		}
	}()

	if err := s.secondary.Put(ctx, in); err != nil {
		return "", err
	}
	return s.secondary.PublicURL(in.Bucket, in.Key), nil
}

func primaryFailure(err error, reason string) error {
	switch {
	case err == nil:
		return resilience.NewError(resilience.CodeUpload, "primary store unavailable").
			WithDetail("reason", reason)
	case resilience.HasCode(err, resilience.CodeCircuitOpen):
		return err
	default:
		return resilience.WrapError(resilience.CodeUpload, "primary upload failed", err).
			WithDetail("reason", reason)
	}
}

func (s *Service) validate(fileName, contentType string) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", resilience.NewError(resilience.CodeValidation, "file name is required")
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !slices.Contains(s.allowed, mediaType) {
		return "", resilience.NewError(resilience.CodeValidation, "content type not allowed: "+contentType).
			WithDetail("allowed", s.allowed)
	}
	return mediaType, nil
}

// CheckHealth probes the primary store now. Unhealthiness is reported in the status.
func (s *Service) CheckHealth(ctx context.Context) storage.HealthStatus {
	if !s.Initialized() {
		return storage.HealthStatus{
			Healthy:     false,
			LastChecked: s.clock.Now(),
			Error:       string(resilience.CodeClientNotInit),
		}
	}
	return s.health.Check(ctx, storage.PrimaryStore)
}

// HasSecondary reports whether a secondary store is configured.
func (s *Service) HasSecondary() bool {
	return s.secondary != nil
}

// CheckSecondaryHealth probes the secondary store now.
func (s *Service) CheckSecondaryHealth(ctx context.Context) storage.HealthStatus {
	if s.secondary == nil {
		return storage.HealthStatus{Healthy: false, LastChecked: s.clock.Now(), Error: "no secondary store configured"}
	}
	return s.health.Check(ctx, storage.SecondaryStore)
}

// IsHealthy reports the primary's health, probing only when the cached result is stale.
func (s *Service) IsHealthy(ctx context.Context) bool {
	if !s.Initialized() {
		return false
	}
	return s.health.IsHealthy(ctx, storage.PrimaryStore)
}

// Usable reports whether at least one store can currently take uploads.
func (s *Service) Usable(ctx context.Context) bool {
	if s.IsHealthy(ctx) {
		return true
	}
	return s.secondary != nil && s.health.IsHealthy(ctx, storage.SecondaryStore)
}

// Status returns the last known health of each store and the breaker snapshots. It never probes.
func (s *Service) Status() StatusReport {
	report := StatusReport{
		Initialized: s.Initialized(),
		Breakers:    s.registry.Snapshot(),
	}
	if status, ok := s.health.Status(storage.PrimaryStore); ok {
		report.Primary = &status
	}
	if status, ok := s.health.Status(storage.SecondaryStore); ok {
		report.Secondary = &status
	}
	return report
}

// Reset forces the primary's breaker closed and drops cached health. The primary
// client is kept.
func (s *Service) Reset() {
	s.registry.Reset()
	s.health.Reset()
	s.logger.Info().Msg("storage breakers and health cache reset")
}
