// Package api provides the HTTP API for the Evermore photo service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/api/handler"
	"github.com/evermore/evermore/internal/api/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Tokens  middleware.TokenValidator
	Storage handler.StorageService
	Photos  handler.PhotoService

	MaxUploadBytes  int64
	UploadRateLimit int
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "evermore-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Storage:   cfg.Storage,
		Logger:    cfg.Logger,
	})
	photoHandler := handler.NewPhotoHandler(cfg.Photos, cfg.MaxUploadBytes, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)
	optionalAuth := middleware.OptionalAuth(cfg.Tokens)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware)
				r.Use(middleware.RateLimitByUser(middleware.OpsRateLimit))
				r.Get("/status", opsHandler.SystemStatus)
				r.Post("/storage/reset", opsHandler.ResetStorage)
			})
		})

		r.Route("/photos", func(r chi.Router) {
			// Public reads
			r.Group(func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Use(optionalAuth)
				r.Get("/", photoHandler.ListPhotos)
				r.Get("/{photoId}", photoHandler.GetPhoto)
			})

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware)
				r.With(
					middleware.RateLimitByUser(middleware.UploadRateLimit(cfg.UploadRateLimit)),
					middleware.RequireContentType("multipart/form-data"),
				).Post("/", photoHandler.UploadPhoto)
				r.With(
					middleware.RateLimitByUser(middleware.StandardRateLimit),
					middleware.RequireContentType("application/json"),
				).Put("/{photoId}/status", photoHandler.UpdatePhotoStatus)
			})
		})
	})

	return r
}
