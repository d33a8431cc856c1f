// Package main provides the entrypoint for the Evermore photo API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/evermore/evermore/internal/api"
	"github.com/evermore/evermore/internal/api/middleware"
	"github.com/evermore/evermore/internal/auth"
	"github.com/evermore/evermore/internal/config"
	"github.com/evermore/evermore/internal/database"
	"github.com/evermore/evermore/internal/logging"
	"github.com/evermore/evermore/internal/photo"
	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage/supabase"
	"github.com/evermore/evermore/internal/telemetry"
	"github.com/evermore/evermore/internal/upload"
	"github.com/evermore/evermore/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "evermore-api"

func main() {
	configPath := flag.String("config", os.Getenv("EVERMORE_CONFIG"), "path to a YAML/JSON/TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Service:    serviceName,
		Version:    Version,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Server.Env).
		Msg("starting Evermore API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Server.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initializing http metrics: %w", err)
	}
	storageMetrics, err := telemetry.NewStorageMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initializing storage metrics: %w", err)
	}

	repo, pool, err := openRepository(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	uploads, err := newUploadService(ctx, cfg, storageMetrics, log)
	if err != nil {
		return err
	}

	photos := photo.NewService(photo.ServiceConfig{
		Repository: repo,
		Uploader:   uploads,
		Logger:     log,
	})

	if cfg.Auth.SigningKey == config.DefaultSigningKey {
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey:     cfg.Auth.SigningKey,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
	})

	refresher := worker.NewHealthRefresher(worker.HealthRefresherConfig{
		Config: worker.RefreshConfig{
			Schedule:       cfg.Ops.RefreshSchedule,
			ProbeSecondary: true,
		},
		Target: uploads,
		Logger: log,
	})
	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("starting health refresher: %w", err)
	}

	if cfg.Ops.PubSubProjectID != "" {
		opsHandler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Ops.PubSubProjectID,
			SubscriptionName: cfg.Ops.PubSubSubscription,
			Dispatcher:       worker.NewDispatcher(refresher, uploads, log),
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer opsHandler.Close()

		go func() {
			if err := opsHandler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub ops handler stopped")
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         httpMetrics,
		RequireTLS:      cfg.Server.RequireTLS,
		Tokens:          jwtService,
		Storage:         uploads,
		Photos:          photos,
		MaxUploadBytes:  cfg.Storage.MaxUploadBytes,
		UploadRateLimit: cfg.Storage.UploadRateLimit,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	refresher.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// openRepository connects to PostgreSQL when a host is configured and falls back to
// the in-memory repository otherwise.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (photo.Repository, *pgxpool.Pool, error) {
	if cfg.Host == "" {
		log.Warn().Msg("no database configured - photo records are kept in memory and lost on restart")
		return photo.NewInMemoryRepository(), nil, nil
	}

	dbConfig := database.FromConfig(cfg)
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}

	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")
	return photo.NewPostgresRepository(pool), pool, nil
}

// newUploadService builds the storage path. A primary that cannot be initialized is
// logged and left out so uploads go to the secondary. Only the primary sits behind a
// circuit breaker; the secondary is always tried, with retries.
func newUploadService(ctx context.Context, cfg *config.Config, metrics *telemetry.StorageMetrics, log zerolog.Logger) (*upload.Service, error) {
	svcCfg := upload.ServiceConfig{
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Storage.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Storage.Breaker.SuccessThreshold,
			Timeout:          cfg.Storage.Breaker.Timeout,
		},
		HealthTTL: cfg.Storage.HealthTTL,
		Logger:    log,
		Metrics:   metrics,
	}

	secondaryCfg := cfg.Storage.Secondary
	if secondaryCfg.URL != "" {
		clientCfg := resilience.DefaultClientConfig(supabase.ProviderName)
		clientCfg.Timeout = secondaryCfg.Timeout
		clientCfg.Retry.MaxRetries = secondaryCfg.MaxRetries
		clientCfg.Logger = log

		secondary, err := supabase.NewClient(supabase.ClientConfig{
			URL:        secondaryCfg.URL,
			ServiceKey: secondaryCfg.ServiceKey,
			HTTPClient: resilience.NewClient(clientCfg),
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating secondary storage client: %w", err)
		}
		svcCfg.Secondary = secondary
		svcCfg.SecondaryBucket = secondaryCfg.Bucket
	} else {
		log.Warn().Msg("no secondary storage configured - primary failures will fail uploads")
	}

	svc := upload.NewService(svcCfg)

	primary := cfg.Storage.Primary
	if err := svc.Initialize(ctx, upload.Config{
		Endpoint:        primary.Endpoint,
		Region:          primary.Region,
		AccessKeyID:     primary.AccessKeyID,
		SecretAccessKey: primary.SecretAccessKey,
		Bucket:          primary.Bucket,
		CDNDomain:       primary.CDNDomain,
	}); err != nil {
		log.Error().
			Err(err).
			Str("code", string(resilience.CodeOf(err))).
			Msg("primary storage unavailable - uploads will use the secondary store")
	}

	return svc, nil
}
