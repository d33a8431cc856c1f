package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermore/evermore/internal/auth"
	"github.com/evermore/evermore/internal/resilience"
)

func newJWTService(key, issuer, audience string) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     issuer,
		Audience:   audience,
	})
}

func TestJWTService_GenerateAndValidateAccessToken(t *testing.T) {
	svc := newJWTService("test-secret-key-for-testing-only", "evermore", "evermore-api")

	token, expiresAt, err := svc.GenerateAccessToken("usr_planner")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	userID, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_planner", userID)

	claims, err := svc.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_planner", claims.Subject)
	assert.Equal(t, "evermore", claims.Issuer)
}

func TestJWTService_MissingSubject(t *testing.T) {
	svc := newJWTService("k", "evermore", "evermore-api")

	_, _, err := svc.GenerateAccessToken("")
	assert.ErrorIs(t, err, auth.ErrMissingSubject)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newJWTService("test-secret-key-for-testing-only", "evermore", "evermore-api")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Mismatch(t *testing.T) {
	issuer := newJWTService("key-one", "evermore", "evermore-api")
	token, _, err := issuer.GenerateAccessToken("usr_1")
	require.NoError(t, err)

	tests := []struct {
		name string
		svc  *auth.JWTService
	}{
		{"wrong signing key", newJWTService("key-two", "evermore", "evermore-api")},
		{"wrong issuer", newJWTService("key-one", "someone-else", "evermore-api")},
		{"wrong audience", newJWTService("key-one", "evermore", "other-api")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.ValidateAccessToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	clock := resilience.NewManualClock(time.Now())
	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey:     "k",
		Issuer:         "evermore",
		Audience:       "evermore-api",
		AccessTokenTTL: 10 * time.Minute,
		Clock:          clock,
	})

	token, expiresAt, err := svc.GenerateAccessToken("usr_1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Minute), expiresAt)

	clock.Advance(11 * time.Minute)
	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}
