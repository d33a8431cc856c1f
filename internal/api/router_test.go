package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermore/evermore/internal/api"
	"github.com/evermore/evermore/internal/api/models"
	"github.com/evermore/evermore/internal/auth"
	"github.com/evermore/evermore/internal/photo"
	"github.com/evermore/evermore/internal/storage"
	"github.com/evermore/evermore/internal/upload"
)

type stubStorage struct {
	resets int
}

func (s *stubStorage) Initialized() bool           { return true }
func (s *stubStorage) HasSecondary() bool          { return true }
func (s *stubStorage) Usable(context.Context) bool { return true }
func (s *stubStorage) Reset()                      { s.resets++ }

func (s *stubStorage) Status() upload.StatusReport {
	return upload.StatusReport{Initialized: true}
}

func (s *stubStorage) CheckHealth(context.Context) storage.HealthStatus {
	return storage.HealthStatus{Healthy: true}
}
func (s *stubStorage) CheckSecondaryHealth(context.Context) storage.HealthStatus {
	return storage.HealthStatus{Healthy: true}
}

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, _ []byte, fileName, _ string) (*storage.UploadResult, error) {
	key := "photos/1-" + fileName
	return &storage.UploadResult{URL: "https://cdn.example.com/" + key, Key: key, StorageType: storage.TypePrimary}, nil
}

func testJWTService() *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "evermore",
		Audience:   "evermore-api",
	})
}

type testServer struct {
	router  http.Handler
	storage *stubStorage
	photos  *photo.Service
}

func newTestServer(t *testing.T, requireTLS bool) *testServer {
	t.Helper()

	store := &stubStorage{}
	photos := photo.NewService(photo.ServiceConfig{
		Repository: photo.NewInMemoryRepository(),
		Uploader:   stubUploader{},
		Logger:     zerolog.Nop(),
	})

	router := api.NewRouter(api.RouterConfig{
		Version:    "test",
		BuildTime:  "2026-01-01T00:00:00Z",
		Logger:     zerolog.New(io.Discard),
		RequireTLS: requireTLS,
		Tokens:     testJWTService(),
		Storage:    store,
		Photos:     photos,
	})
	return &testServer{router: router, storage: store, photos: photos}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// addAuthHeader adds a valid Bearer token to the request.
func addAuthHeader(t *testing.T, req *http.Request) {
	t.Helper()
	token, _, err := testJWTService().GenerateAccessToken("usr_planner")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
}

func TestRouter_HealthCheck(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_ReadinessCheck(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_OpsRequiresAuth(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/ops/status"},
		{http.MethodPost, "/v1/ops/storage/reset"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := s.do(httptest.NewRequest(tt.method, tt.path, http.NoBody))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
	assert.Zero(t, s.storage.resets)
}

func TestRouter_SystemStatus(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	addAuthHeader(t, req)
	w := s.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Len(t, status.Stores, 2)
}

func TestRouter_ResetStorage(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/storage/reset", http.NoBody)
	addAuthHeader(t, req)
	w := s.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.storage.resets)
}

func TestRouter_UploadFlow(t *testing.T) {
	s := newTestServer(t, false)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "rings.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("\xff\xd8\xff\xe0jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("caption", "The rings"))
	require.NoError(t, mw.Close())

	postPhoto := func(authenticated bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/photos", bytes.NewReader(body.Bytes()))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if authenticated {
			addAuthHeader(t, req)
		}
		return s.do(req)
	}

	assert.Equal(t, http.StatusUnauthorized, postPhoto(false).Code)

	w := postPhoto(true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Photo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "image/jpeg", created.ContentType)
	assert.Equal(t, "Primary", created.StorageType)

	// Pending photos stay hidden from the public gallery until approved.
	w = s.do(httptest.NewRequest(http.MethodGet, "/v1/photos/"+created.ID, http.NoBody))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/v1/photos/"+created.ID+"/status", strings.NewReader(`{"status":"approved"}`))
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(t, req)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(httptest.NewRequest(http.MethodGet, "/v1/photos", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	var list models.PhotoList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.ID, list.Items[0].ID)
}

func TestRouter_StatusUpdateRequiresJSON(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPut, "/v1/photos/p1/status", strings.NewReader(`status=approved`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	addAuthHeader(t, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, s.do(req).Code)
}

func TestRouter_InvalidTokenOnPublicRoute(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/v1/photos", http.NoBody)
	req.Header.Set("Authorization", "Bearer not-a-token")

	w := s.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestRouter_RequireTLS(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Forwarded-Proto", "http")

	assert.Equal(t, http.StatusForbidden, s.do(req).Code)
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(httptest.NewRequest(http.MethodGet, "/v1/guests", http.NoBody))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
