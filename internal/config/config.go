// Package config loads service configuration with viper.
//
// Priority: environment variables > config file > defaults. Every key can be set with the
// EVERMORE_ prefix (storage.primary.bucket -> EVERMORE_STORAGE_PRIMARY_BUCKET); the
// deployment's established names (APP_PORT, DB_HOST, JWT_SIGNING_KEY, ...) are bound too.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "EVERMORE"

// DefaultSigningKey is only acceptable outside production.
const DefaultSigningKey = "local-dev-signing-key-change-in-production"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Ops       OpsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	Env             string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequireTLS      bool
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// DatabaseConfig holds PostgreSQL settings. An empty Host means no database.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds access token settings.
type AuthConfig struct {
	SigningKey     string
	Issuer         string
	Audience       string
	AccessTokenTTL time.Duration
}

// StorageConfig holds both stores and the resilience settings around them.
type StorageConfig struct {
	Primary         PrimaryStorageConfig
	Secondary       SecondaryStorageConfig
	Breaker         BreakerConfig
	HealthTTL       time.Duration
	MaxUploadBytes  int64
	UploadRateLimit int
}

// PrimaryStorageConfig is the S3-compatible store behind the CDN.
type PrimaryStorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	CDNDomain       string
}

// SecondaryStorageConfig is the Storage REST fallback. An empty URL disables it.
type SecondaryStorageConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
	Timeout    time.Duration
	MaxRetries int
}

// BreakerConfig configures the primary store's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// OpsConfig holds background operations settings.
type OpsConfig struct {
	RefreshSchedule    string
	PubSubProjectID    string
	PubSubSubscription string
}

// Load reads configuration from defaults, the optional file at path and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			Env:             v.GetString("server.env"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			RequireTLS:      v.GetBool("server.require_tls"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("telemetry.enabled"),
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			SampleRatio:  v.GetFloat64("telemetry.sample_ratio"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Auth: AuthConfig{
			SigningKey:     v.GetString("auth.signing_key"),
			Issuer:         v.GetString("auth.issuer"),
			Audience:       v.GetString("auth.audience"),
			AccessTokenTTL: v.GetDuration("auth.access_token_ttl"),
		},
		Storage: StorageConfig{
			Primary: PrimaryStorageConfig{
				Endpoint:        v.GetString("storage.primary.endpoint"),
				Region:          v.GetString("storage.primary.region"),
				AccessKeyID:     v.GetString("storage.primary.access_key_id"),
				SecretAccessKey: v.GetString("storage.primary.secret_access_key"),
				Bucket:          v.GetString("storage.primary.bucket"),
				CDNDomain:       v.GetString("storage.primary.cdn_domain"),
			},
			Secondary: SecondaryStorageConfig{
				URL:        v.GetString("storage.secondary.url"),
				ServiceKey: v.GetString("storage.secondary.service_key"),
				Bucket:     v.GetString("storage.secondary.bucket"),
				Timeout:    v.GetDuration("storage.secondary.timeout"),
				MaxRetries: v.GetInt("storage.secondary.max_retries"),
			},
			Breaker: BreakerConfig{
				FailureThreshold: v.GetInt("storage.breaker.failure_threshold"),
				SuccessThreshold: v.GetInt("storage.breaker.success_threshold"),
				Timeout:          v.GetDuration("storage.breaker.timeout"),
			},
			HealthTTL:       v.GetDuration("storage.health_ttl"),
			MaxUploadBytes:  v.GetInt64("storage.max_upload_bytes"),
			UploadRateLimit: v.GetInt("storage.upload_rate_limit"),
		},
		Ops: OpsConfig{
			RefreshSchedule:    v.GetString("ops.refresh_schedule"),
			PubSubProjectID:    v.GetString("ops.pubsub_project_id"),
			PubSubSubscription: v.GetString("ops.pubsub_subscription"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.require_tls", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "evermore")
	v.SetDefault("database.name", "evermore")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("auth.signing_key", DefaultSigningKey)
	v.SetDefault("auth.issuer", "evermore")
	v.SetDefault("auth.audience", "evermore-api")
	v.SetDefault("auth.access_token_ttl", time.Hour)

	v.SetDefault("storage.primary.region", "auto")
	v.SetDefault("storage.secondary.bucket", "photos")
	v.SetDefault("storage.secondary.timeout", 30*time.Second)
	v.SetDefault("storage.secondary.max_retries", 3)
	v.SetDefault("storage.breaker.failure_threshold", 5)
	v.SetDefault("storage.breaker.success_threshold", 2)
	v.SetDefault("storage.breaker.timeout", 60*time.Second)
	v.SetDefault("storage.health_ttl", 5*time.Minute)
	v.SetDefault("storage.max_upload_bytes", 10<<20)
	v.SetDefault("storage.upload_rate_limit", 30)

	v.SetDefault("ops.refresh_schedule", "@every 1m")
}

// bindLegacyEnv maps the plain environment names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) {
	bindings := map[string]string{
		"server.port":                       "APP_PORT",
		"server.env":                        "APP_ENV",
		"server.require_tls":                "REQUIRE_TLS",
		"log.level":                         "LOG_LEVEL",
		"telemetry.enabled":                 "OTEL_ENABLED",
		"telemetry.otlp_endpoint":           "OTEL_EXPORTER_OTLP_ENDPOINT",
		"database.host":                     "DB_HOST",
		"database.port":                     "DB_PORT",
		"database.user":                     "DB_USER",
		"database.password":                 "DB_PASSWORD",
		"database.name":                     "DB_NAME",
		"database.ssl_mode":                 "DB_SSL_MODE",
		"database.max_open_conns":           "DB_MAX_OPEN_CONNS",
		"database.max_idle_conns":           "DB_MAX_IDLE_CONNS",
		"database.conn_max_lifetime":        "DB_CONN_MAX_LIFETIME",
		"auth.signing_key":                  "JWT_SIGNING_KEY",
		"storage.primary.endpoint":          "R2_ENDPOINT",
		"storage.primary.access_key_id":     "R2_ACCESS_KEY_ID",
		"storage.primary.secret_access_key": "R2_SECRET_ACCESS_KEY",
		"storage.primary.bucket":            "R2_BUCKET",
		"storage.primary.cdn_domain":        "CDN_DOMAIN",
		"storage.secondary.url":             "SUPABASE_URL",
		"storage.secondary.service_key":     "SUPABASE_SERVICE_ROLE_KEY",
		"ops.pubsub_project_id":             "GCP_PROJECT_ID",
		"ops.pubsub_subscription":           "PUBSUB_SUBSCRIPTION",
	}
	for key, env := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate checks the settings the process cannot start without. Storage settings are
// checked when the upload service initializes, so a broken primary degrades instead.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Env == "" {
		errs = append(errs, errors.New("server.env is required"))
	}
	if c.IsProduction() && (c.Auth.SigningKey == "" || c.Auth.SigningKey == DefaultSigningKey) {
		errs = append(errs, errors.New("auth.signing_key must be set in production"))
	}
	if c.Database.Host != "" && c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required when database.host is set"))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("storage.max_upload_bytes must be positive"))
	}
	if c.Ops.PubSubProjectID != "" && c.Ops.PubSubSubscription == "" {
		errs = append(errs, errors.New("ops.pubsub_subscription is required when ops.pubsub_project_id is set"))
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v must be within [0, 1]", r))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
