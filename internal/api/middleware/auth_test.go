package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermore/evermore/internal/api/middleware"
	"github.com/evermore/evermore/internal/auth"
)

func newTestJWTService() *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "evermore",
		Audience:   "evermore-api",
	})
}

func captureUser(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = middleware.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_Rejects(t *testing.T) {
	var userID string
	handler := middleware.Auth(newTestJWTService())(captureUser(&userID))

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"missing header", "", "missing authorization header"},
		{"no bearer prefix", "token123", "invalid authorization header format"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"just bearer", "Bearer", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "missing bearer token"},
		{"invalid token", "Bearer invalid.jwt.token", "invalid access token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.detail)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestAuth_ValidToken(t *testing.T) {
	jwtService := newTestJWTService()
	token, _, err := jwtService.GenerateAccessToken("usr_planner")
	require.NoError(t, err)

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		t.Run(prefix, func(t *testing.T) {
			var userID string
			handler := middleware.Auth(jwtService)(captureUser(&userID))

			req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
			req.Header.Set("Authorization", prefix+token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "usr_planner", userID)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	jwtService := newTestJWTService()
	token, _, err := jwtService.GenerateAccessToken("usr_planner")
	require.NoError(t, err)

	t.Run("anonymous passes through", func(t *testing.T) {
		userID := "unset"
		handler := middleware.OptionalAuth(jwtService)(captureUser(&userID))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/photos", http.NoBody))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, userID)
	})

	t.Run("valid token attaches user", func(t *testing.T) {
		var userID string
		handler := middleware.OptionalAuth(jwtService)(captureUser(&userID))

		req := httptest.NewRequest(http.MethodGet, "/v1/photos", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "usr_planner", userID)
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		var userID string
		handler := middleware.OptionalAuth(jwtService)(captureUser(&userID))

		req := httptest.NewRequest(http.MethodGet, "/v1/photos", http.NoBody)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetUserID_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	assert.Empty(t, middleware.GetUserID(req.Context()))
	assert.Equal(t, "usr_1", middleware.GetUserID(middleware.WithUserID(req.Context(), "usr_1")))
}
