package response_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/evermore/evermore/internal/api/middleware"
	"github.com/evermore/evermore/internal/api/models"
	"github.com/evermore/evermore/internal/api/response"
	"github.com/evermore/evermore/internal/resilience"
)

// requestWithContext creates an HTTP request that has been processed by the RequestID middleware
// to populate the context with a request ID.
func requestWithContext(t *testing.T, method, path string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)

	var processedReq *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processedReq = r
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	return processedReq, httptest.NewRecorder()
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	var problem models.Problem
	if err := json.NewDecoder(rec.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode Problem response: %v", err)
	}
	return problem
}

func TestJSON_IncludesRequestID(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/test")

	response.JSON(rec, req, http.StatusOK, map[string]string{"message": "hello"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header to be set")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
}

func TestJSON_WithoutRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, nil)

	if h := rec.Header().Get("X-Request-Id"); h != "" {
		t.Errorf("expected no X-Request-Id header when not in context, got %q", h)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got %q", rec.Body.String())
	}
}

func TestCreated_IncludesLocation(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodPost, "/v1/photos")

	response.Created(rec, req, "/v1/photos/123", map[string]string{"id": "123"})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "/v1/photos/123" {
		t.Errorf("expected Location /v1/photos/123, got %q", location)
	}
}

func TestNoContent_IncludesRequestID(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodPost, "/test")

	response.NoContent(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header to be set")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body for 204, got %q", rec.Body.String())
	}
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) { response.BadRequest(w, r, "bad", nil) }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { response.Unauthorized(w, r, "no") }, http.StatusUnauthorized},
		{"not found", func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "gone") }, http.StatusNotFound},
		{"too large", func(w http.ResponseWriter, r *http.Request) { response.PayloadTooLarge(w, r, "big") }, http.StatusRequestEntityTooLarge},
		{"internal", func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "oops") }, http.StatusInternalServerError},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) { response.ServiceUnavailable(w, r, "down") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := requestWithContext(t, http.MethodGet, "/v1/test")

			tt.write(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			problem := decodeProblem(t, rec)
			if problem.Status != tt.status {
				t.Errorf("expected problem status %d, got %d", tt.status, problem.Status)
			}
			if problem.TraceID == "" {
				t.Error("expected traceId to be set")
			}
			if problem.Instance != "/v1/test" {
				t.Errorf("expected instance /v1/test, got %q", problem.Instance)
			}
		})
	}
}

func TestFromError_CircuitOpen(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodPost, "/v1/photos")
	err := resilience.NewError(resilience.CodeCircuitOpen, "circuit breaker is open").WithDetail("circuit", "primary")

	response.FromError(rec, req, zerolog.Nop(), err)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
	problem := decodeProblem(t, rec)
	if problem.Code != "CIRCUIT_OPEN" {
		t.Errorf("expected code CIRCUIT_OPEN, got %q", problem.Code)
	}
	if problem.Details["circuit"] != "primary" {
		t.Errorf("expected circuit detail, got %v", problem.Details)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("X-Request-Id", "client-request-123")

	var processedReq *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processedReq = r
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if id := middleware.GetRequestID(processedReq.Context()); id != "client-request-123" {
		t.Errorf("expected client request ID to be preserved, got %q", id)
	}

	rec := httptest.NewRecorder()
	response.JSON(rec, processedReq, http.StatusOK, map[string]string{"status": "ok"})

	if id := rec.Header().Get("X-Request-Id"); id != "client-request-123" {
		t.Errorf("expected response X-Request-Id to match client's, got %q", id)
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	if id := middleware.GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty request ID for background context, got %q", id)
	}
}
