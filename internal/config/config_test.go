package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermore/evermore/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Storage.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Storage.Breaker.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Storage.Breaker.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Storage.HealthTTL)
	assert.Equal(t, int64(10<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, "auto", cfg.Storage.Primary.Region)
	assert.Equal(t, "@every 1m", cfg.Ops.RefreshSchedule)
	assert.Equal(t, config.DefaultSigningKey, cfg.Auth.SigningKey)
	assert.Empty(t, cfg.Database.Host)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_PrefixedEnv(t *testing.T) {
	t.Setenv("EVERMORE_STORAGE_PRIMARY_BUCKET", "wedding-photos")
	t.Setenv("EVERMORE_STORAGE_BREAKER_TIMEOUT", "30s")
	t.Setenv("EVERMORE_LOG_FORMAT", "console")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "wedding-photos", cfg.Storage.Primary.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Storage.Breaker.Timeout)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("CDN_DOMAIN", "cdn.evermore.test")
	t.Setenv("SUPABASE_URL", "https://xyz.supabase.co")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "cdn.evermore.test", cfg.Storage.Primary.CDNDomain)
	assert.Equal(t, "https://xyz.supabase.co", cfg.Storage.Secondary.URL)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("EVERMORE_SERVER_PORT", "7070")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8181
storage:
  primary:
    endpoint: https://account.r2.cloudflarestorage.com
    bucket: from-file
  breaker:
    failure_threshold: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("EVERMORE_STORAGE_PRIMARY_BUCKET", "from-env")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "https://account.r2.cloudflarestorage.com", cfg.Storage.Primary.Endpoint)
	assert.Equal(t, "from-env", cfg.Storage.Primary.Bucket, "environment overrides the file")
	assert.Equal(t, 3, cfg.Storage.Breaker.FailureThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.signing_key")

	t.Setenv("JWT_SIGNING_KEY", "a-real-secret")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{Port: 0, Env: ""},
		Telemetry: config.TelemetryConfig{SampleRatio: 2},
		Ops:       config.OpsConfig{PubSubProjectID: "proj"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.env")
	assert.Contains(t, err.Error(), "storage.max_upload_bytes")
	assert.Contains(t, err.Error(), "ops.pubsub_subscription")
	assert.Contains(t, err.Error(), "telemetry.sample_ratio")
}
