package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermore/evermore/internal/api/handler"
	"github.com/evermore/evermore/internal/api/models"
	"github.com/evermore/evermore/internal/resilience"
	"github.com/evermore/evermore/internal/storage"
	"github.com/evermore/evermore/internal/upload"
)

type fakeStorage struct {
	initialized  bool
	hasSecondary bool
	primary      storage.HealthStatus
	secondary    storage.HealthStatus
	breakers     []resilience.BreakerSnapshot
	resets       int
}

func (f *fakeStorage) Initialized() bool  { return f.initialized }
func (f *fakeStorage) HasSecondary() bool { return f.hasSecondary }

func (f *fakeStorage) Usable(context.Context) bool {
	return f.primary.Healthy || (f.hasSecondary && f.secondary.Healthy)
}

func (f *fakeStorage) CheckHealth(context.Context) storage.HealthStatus { return f.primary }

func (f *fakeStorage) CheckSecondaryHealth(context.Context) storage.HealthStatus { return f.secondary }

func (f *fakeStorage) Status() upload.StatusReport {
	return upload.StatusReport{Initialized: f.initialized, Breakers: f.breakers}
}

func (f *fakeStorage) Reset() {
	f.resets++
	for i := range f.breakers {
		f.breakers[i].State = resilience.StateClosed
		f.breakers[i].FailureCount = 0
		f.breakers[i].NextAttemptTime = nil
	}
}

var opsNow = time.Date(2026, 6, 20, 14, 0, 0, 0, time.UTC)

func newOpsHandler(store *fakeStorage) *handler.OpsHandler {
	return handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   "1.2.3",
		BuildTime: "2026-06-01T00:00:00Z",
		Storage:   store,
		Clock:     resilience.NewManualClock(opsNow),
		Logger:    zerolog.Nop(),
	})
}

func TestOpsHandler_HealthCheck(t *testing.T) {
	h := newOpsHandler(&fakeStorage{})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Details["version"])
}

func TestOpsHandler_ReadinessCheck(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStorage
		want  int
	}{
		{"primary healthy", &fakeStorage{initialized: true, primary: storage.HealthStatus{Healthy: true}}, http.StatusOK},
		{"secondary only", &fakeStorage{hasSecondary: true, secondary: storage.HealthStatus{Healthy: true}}, http.StatusOK},
		{"nothing usable", &fakeStorage{hasSecondary: true}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newOpsHandler(tt.store).ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOpsHandler_SystemStatus(t *testing.T) {
	openedAt := opsNow.Add(-10 * time.Second)
	nextAttempt := opsNow.Add(50 * time.Second)

	tests := []struct {
		name       string
		store      *fakeStorage
		wantStatus models.HealthStatus
	}{
		{
			name: "primary healthy",
			store: &fakeStorage{
				initialized:  true,
				hasSecondary: true,
				primary:      storage.HealthStatus{Healthy: true, LastChecked: opsNow},
				secondary:    storage.HealthStatus{Healthy: true, LastChecked: opsNow},
			},
			wantStatus: models.HealthStatusOK,
		},
		{
			name: "degraded to secondary",
			store: &fakeStorage{
				initialized:  true,
				hasSecondary: true,
				primary:      storage.HealthStatus{Error: "connection refused", LastChecked: opsNow},
				secondary:    storage.HealthStatus{Healthy: true, LastChecked: opsNow},
				breakers: []resilience.BreakerSnapshot{{
					Name:            storage.PrimaryStore,
					State:           resilience.StateOpen,
					FailureCount:    5,
					LastFailureTime: &openedAt,
					NextAttemptTime: &nextAttempt,
				}},
			},
			wantStatus: models.HealthStatusDegraded,
		},
		{
			name: "no secondary configured",
			store: &fakeStorage{
				primary: storage.HealthStatus{Error: "primary storage client not initialized"},
			},
			wantStatus: models.HealthStatusFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newOpsHandler(tt.store).SystemStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody))

			require.Equal(t, http.StatusOK, rec.Code)
			var status models.SystemStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))

			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.store.initialized, status.Initialized)
			require.Len(t, status.Stores, 2)
			assert.Equal(t, storage.PrimaryStore, status.Stores[0].Name)
			assert.Equal(t, storage.SecondaryStore, status.Stores[1].Name)
			assert.Equal(t, tt.store.hasSecondary, status.Stores[1].Configured)
			require.NotNil(t, status.Build)
			assert.Equal(t, "1.2.3", status.Build.Version)
		})
	}
}

func TestOpsHandler_SystemStatusBreakers(t *testing.T) {
	nextAttempt := opsNow.Add(50 * time.Second)
	store := &fakeStorage{
		initialized:  true,
		hasSecondary: true,
		primary:      storage.HealthStatus{Error: "timeout"},
		secondary:    storage.HealthStatus{Healthy: true},
		breakers: []resilience.BreakerSnapshot{{
			Name:            storage.PrimaryStore,
			State:           resilience.StateOpen,
			FailureCount:    5,
			NextAttemptTime: &nextAttempt,
		}},
	}

	rec := httptest.NewRecorder()
	newOpsHandler(store).SystemStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody))

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Breakers, 1)
	assert.Equal(t, "open", status.Breakers[0].State)
	assert.Equal(t, 5, status.Breakers[0].Failures)
	assert.NotNil(t, status.Breakers[0].NextAttemptTime)
	require.NotNil(t, status.Stores[0].Error)
	assert.Equal(t, "timeout", *status.Stores[0].Error)
}

func TestOpsHandler_ResetStorage(t *testing.T) {
	nextAttempt := opsNow.Add(time.Minute)
	store := &fakeStorage{breakers: []resilience.BreakerSnapshot{{
		Name:            storage.PrimaryStore,
		State:           resilience.StateOpen,
		FailureCount:    5,
		NextAttemptTime: &nextAttempt,
	}}}

	rec := httptest.NewRecorder()
	newOpsHandler(store).ResetStorage(rec, httptest.NewRequest(http.MethodPost, "/v1/ops/storage/reset", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.resets)

	var result models.StorageResetResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Reset)
	require.Len(t, result.Breakers, 1)
	assert.Equal(t, "closed", result.Breakers[0].State)
	assert.Nil(t, result.Breakers[0].NextAttemptTime)
}
