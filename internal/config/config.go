// Package config loads clinicd configuration from the environment, an optional
// .env file, and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Storage       StorageConfig        `yaml:"storage"`
	Database      DatabaseConfig       `yaml:"database"`
	Supabase      SupabaseConfig       `yaml:"supabase"`
	Auth          AuthConfig           `yaml:"auth"`
	Logging       logger.LoggingConfig `yaml:"logging"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	CORS          CORSConfig           `yaml:"cors"`
	Notifications NotificationConfig   `yaml:"notifications"`
	Jobs          JobsConfig           `yaml:"jobs"`
	Audit         AuditConfig          `yaml:"audit"`

	// TenantDefaults seeds the settings of newly created clinics. Only the
	// YAML overlay sets it.
	TenantDefaults tenant.Settings `yaml:"tenant_defaults"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Backend string `yaml:"backend" env:"STORAGE_BACKEND"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url" env:"SUPABASE_URL"`
	AnonKey    string `yaml:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceKey string `yaml:"service_key" env:"SUPABASE_SERVICE_ROLE_KEY"`
	Realtime   bool   `yaml:"realtime" env:"SUPABASE_REALTIME"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"AUTH_JWT_ISSUER"`
	Audience  string `yaml:"audience" env:"AUTH_JWT_AUDIENCE"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type CORSConfig struct {
	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Origins splits AllowedOrigins.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type NotificationConfig struct {
	WebhookURL    string        `yaml:"webhook_url" env:"NOTIFY_WEBHOOK_URL"`
	WebhookSecret string        `yaml:"webhook_secret" env:"NOTIFY_WEBHOOK_SECRET"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"NOTIFY_POLL_INTERVAL"`
	BatchSize     int           `yaml:"batch_size" env:"NOTIFY_BATCH_SIZE"`
	MaxAttempts   int           `yaml:"max_attempts" env:"NOTIFY_MAX_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"NOTIFY_RETRY_DELAY"`
	RedisAddr     string        `yaml:"redis_addr" env:"NOTIFY_REDIS_ADDR"`
	DedupeTTL     time.Duration `yaml:"dedupe_ttl" env:"NOTIFY_DEDUPE_TTL"`
}

type JobsConfig struct {
	Enabled      bool          `yaml:"enabled" env:"JOBS_ENABLED"`
	ReminderSpec string        `yaml:"reminder_spec" env:"JOBS_REMINDER_SPEC"`
	ExpirySpec   string        `yaml:"expiry_spec" env:"JOBS_EXPIRY_SPEC"`
	ReminderLead time.Duration `yaml:"reminder_lead" env:"JOBS_REMINDER_LEAD"`
}

type AuditConfig struct {
	File string `yaml:"file" env:"AUDIT_FILE"`
	Max  int    `yaml:"max" env:"AUDIT_MAX"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Backend: BackendMemory},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging:   logger.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Notifications: NotificationConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    50,
			MaxAttempts:  5,
			RetryDelay:   500 * time.Millisecond,
			DedupeTTL:    10 * time.Minute,
		},
		Jobs: JobsConfig{
			Enabled:      true,
			ReminderSpec: "*/15 * * * *",
			ExpirySpec:   "0 * * * *",
			ReminderLead: 24 * time.Hour,
		},
		Audit:          AuditConfig{Max: 1000},
		TenantDefaults: tenant.DefaultSettings(),
	}
}

// Load reads .env (if present), the YAML file named by CLINIC_CONFIG_FILE
// (if set), then environment variables. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv("CLINIC_CONFIG_FILE"))
}

// LoadFrom is Load with an explicit YAML path. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendSupabase:
		if strings.TrimSpace(c.Supabase.URL) == "" {
			return fmt.Errorf("SUPABASE_URL is required for the supabase backend")
		}
		if strings.TrimSpace(c.Supabase.ServiceKey) == "" {
			return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required for the supabase backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND %q is not one of memory, postgres, supabase", c.Storage.Backend)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST cannot be negative")
	}
	if c.Notifications.MaxAttempts < 1 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Notifications.WebhookURL != "" && c.Notifications.WebhookSecret == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set")
	}
	if err := c.TenantDefaults.Validate(); err != nil {
		return fmt.Errorf("tenant_defaults: %w", err)
	}
	return nil
}
