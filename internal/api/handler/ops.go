// Package handler provides HTTP handlers for the Evermore photo API.
package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/api/models"
	"github.com/evermore/evermore/internal/api/response"
	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage"
	"github.com/evermore/evermore/internal/upload"
)

// StorageService is the part of the upload service the ops endpoints need.
type StorageService interface {
	Initialized() bool
	HasSecondary() bool
	Usable(ctx context.Context) bool
	CheckHealth(ctx context.Context) storage.HealthStatus
	CheckSecondaryHealth(ctx context.Context) storage.HealthStatus
	Status() upload.StatusReport
	Reset()
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	storage   StorageService
	clock     resilience.Clock
	logger    zerolog.Logger
}

// OpsHandlerConfig holds dependencies for the ops handler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	Storage   StorageService
	Clock     resilience.Clock
	Logger    zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	if cfg.Clock == nil {
		cfg.Clock = resilience.SystemClock
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		storage:   cfg.Storage,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Ready means at least one store can take
// uploads; health is served from the cache when fresh.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.storage.Usable(r.Context()) {
		response.JSON(w, r, http.StatusServiceUnavailable, models.Health{
			Status: models.HealthStatusFail,
			Time:   models.Timestamp(h.clock.Now()),
			Details: map[string]interface{}{
				"reason": "no usable storage",
			},
		})
		return
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
	})
}

// SystemStatus handles GET /v1/ops/status. Both stores are probed (subject to the health
// cache) and the breaker snapshots are reported.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	primary := h.storage.CheckHealth(r.Context())
	stores := []models.StoreStatus{storeStatus(storage.PrimaryStore, h.storage.Initialized(), primary)}

	if h.storage.HasSecondary() {
		secondary := h.storage.CheckSecondaryHealth(r.Context())
		stores = append(stores, storeStatus(storage.SecondaryStore, true, secondary))
	} else {
		stores = append(stores, models.StoreStatus{
			Name:   storage.SecondaryStore,
			Status: models.HealthStatusFail,
		})
	}

	report := h.storage.Status()
	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:      overallStatus(stores),
		Time:        models.Timestamp(h.clock.Now()),
		Initialized: report.Initialized,
		Stores:      stores,
		Breakers:    breakerStatuses(report.Breakers),
		Build:       &models.BuildInfo{Version: h.version, BuildTime: h.buildTime},
	})
}

// ResetStorage handles POST /v1/ops/storage/reset.
func (h *OpsHandler) ResetStorage(w http.ResponseWriter, r *http.Request) {
	h.storage.Reset()
	h.logger.Warn().
		Str("request_id", requestID(r)).
		Str("user_id", userID(r)).
		Msg("storage resilience state reset by operator")

	response.JSON(w, r, http.StatusOK, models.StorageResetResult{
		Reset:    true,
		Breakers: breakerStatuses(h.storage.Status().Breakers),
	})
}

func storeStatus(name string, configured bool, health storage.HealthStatus) models.StoreStatus {
	status := models.StoreStatus{
		Name:        name,
		Status:      models.HealthStatusOK,
		Configured:  configured,
		LastChecked: models.TimestampPtr(health.LastChecked),
	}
	if !health.Healthy {
		status.Status = models.HealthStatusFail
	}
	if health.Error != "" {
		msg := health.Error
		status.Error = &msg
	}
	return status
}

// overallStatus is OK when the primary is healthy, DEGRADED when only the secondary is,
// and FAIL otherwise.
func overallStatus(stores []models.StoreStatus) models.HealthStatus {
	switch {
	case stores[0].Status == models.HealthStatusOK:
		return models.HealthStatusOK
	case len(stores) > 1 && stores[1].Status == models.HealthStatusOK:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}

func breakerStatuses(snapshots []resilience.BreakerSnapshot) []models.BreakerStatus {
	out := make([]models.BreakerStatus, 0, len(snapshots))
	for _, s := range snapshots {
		status := models.BreakerStatus{
			Name:      s.Name,
			State:     s.State.String(),
			Failures:  s.FailureCount,
			Successes: s.SuccessCount,
		}
		if s.LastFailureTime != nil {
			status.LastFailureAt = models.TimestampPtr(*s.LastFailureTime)
		}
		if s.NextAttemptTime != nil {
			status.NextAttemptTime = models.TimestampPtr(*s.NextAttemptTime)
		}
		out = append(out, status)
	}
	return out
}
