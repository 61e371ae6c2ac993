// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source drivers for service configs.
const (
	SourceDirectory = "directory"
	SourceHTTP      = "http"
	SourcePostgres  = "postgres"
)

// Filter store drivers.
const (
	FilterStoreMemory = "memory"
	FilterStoreFile   = "file"
	FilterStoreRedis  = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Services      ServicesConfig      `yaml:"services"`
	Backend       BackendConfig       `yaml:"backend"`
	Query         QueryConfig         `yaml:"query"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification. Authentication is off when
// neither a JWKS URL nor an HMAC secret is configured.
type IdentityConfig struct {
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	JWKSURL       string            `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration     `yaml:"jwks_cache_ttl"`
	HMACSecretEnv string            `yaml:"hmac_secret_env"`
	Algorithms    []string          `yaml:"algorithms"`
	ClaimPaths    map[string]string `yaml:"claim_paths"`
	AdminRole     string            `yaml:"admin_role"`
}

// Enabled reports whether requests must carry a bearer token.
func (c IdentityConfig) Enabled() bool {
	return c.JWKSURL != "" || c.HMACSecretEnv != ""
}

// ServicesConfig describes where service configs come from.
type ServicesConfig struct {
	Source      string         `yaml:"source"`
	Directories []string       `yaml:"directories"`
	HotReload   bool           `yaml:"hot_reload"`
	Settle      time.Duration  `yaml:"settle"`
	Endpoint    string         `yaml:"endpoint"`
	Postgres    PostgresConfig `yaml:"postgres"`
	OpenAPI     []SpecSource   `yaml:"openapi"`
}

// PostgresConfig describes the service config table connection.
type PostgresConfig struct {
	DSNEnv   string `yaml:"dsn_env"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

// SpecSource maps a service code to an OpenAPI document.
type SpecSource struct {
	ServiceCode string `yaml:"service_code"`
	SpecFile    string `yaml:"spec_file"`
}

// BackendConfig describes the resource API every service talks to.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for idempotent calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// QueryConfig describes list query defaults and the response cache.
type QueryConfig struct {
	Debounce        time.Duration     `yaml:"debounce"`
	PageSize        int               `yaml:"page_size"`
	StaleTime       time.Duration     `yaml:"stale_time"`
	CacheTime       time.Duration     `yaml:"cache_time"`
	JanitorInterval time.Duration     `yaml:"janitor_interval"`
	PersistFilters  bool              `yaml:"persist_filters"`
	FilterStore     FilterStoreConfig `yaml:"filter_store"`
}

// FilterStoreConfig describes persisted filter storage.
type FilterStoreConfig struct {
	Driver    string        `yaml:"driver"`
	Directory string        `yaml:"directory"`
	AddrEnv   string        `yaml:"addr_env"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"email":      "email",
				"name":       "name",
				"roles":      "roles",
			},
		},
		Services: ServicesConfig{
			Source:      SourceDirectory,
			Directories: []string{"/services"},
			Settle:      250 * time.Millisecond,
			Endpoint:    "/api/service-config",
			Postgres: PostgresConfig{
				DSNEnv:   "ADMINDASH_DATABASE_URL",
				MaxConns: 10,
			},
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:    3,
				BackoffInitial: 100 * time.Millisecond,
				BackoffMax:     2 * time.Second,
			},
		},
		Query: QueryConfig{
			Debounce:        300 * time.Millisecond,
			PageSize:        10,
			StaleTime:       30 * time.Second,
			CacheTime:       5 * time.Minute,
			JanitorInterval: time.Minute,
			PersistFilters:  true,
			FilterStore: FilterStoreConfig{
				Driver:  FilterStoreMemory,
				AddrEnv: "ADMINDASH_REDIS_ADDR",
				Prefix:  "admindash:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Enabled() {
		if c.Identity.Issuer == "" {
			errs = append(errs, "identity.issuer is required")
		}
		if c.Identity.Audience == "" {
			errs = append(errs, "identity.audience is required")
		}
	}

	switch c.Services.Source {
	case SourceDirectory:
		if len(c.Services.Directories) == 0 {
			errs = append(errs, "services.directories is required for the directory source")
		}
	case SourceHTTP:
		if c.Backend.BaseURL == "" {
			errs = append(errs, "backend.base_url is required for the http source")
		}
	case SourcePostgres:
		if c.Services.Postgres.DSNEnv == "" {
			errs = append(errs, "services.postgres.dsn_env is required for the postgres source")
		}
	default:
		errs = append(errs, fmt.Sprintf("services.source %q is not one of directory, http, postgres", c.Services.Source))
	}

	switch c.Query.FilterStore.Driver {
	case FilterStoreMemory, FilterStoreRedis:
	case FilterStoreFile:
		if c.Query.FilterStore.Directory == "" {
			errs = append(errs, "query.filter_store.directory is required for the file driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("query.filter_store.driver %q is not one of memory, file, redis", c.Query.FilterStore.Driver))
	}

	if c.Query.PageSize < 1 {
		errs = append(errs, "query.page_size must be positive")
	}
	if c.Query.CacheTime > 0 && c.Query.StaleTime > c.Query.CacheTime {
		errs = append(errs, "query.stale_time must not exceed query.cache_time")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads ADMINDASH_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADMINDASH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ADMINDASH_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("ADMINDASH_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("ADMINDASH_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("ADMINDASH_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("ADMINDASH_SERVICES_SOURCE"); v != "" {
		cfg.Services.Source = v
	}
	if v := os.Getenv("ADMINDASH_FILTER_STORE_DRIVER"); v != "" {
		cfg.Query.FilterStore.Driver = v
	}
	if v := os.Getenv("ADMINDASH_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
