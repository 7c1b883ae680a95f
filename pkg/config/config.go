package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curatorhq/curator/pkg/kv"
	"github.com/curatorhq/curator/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store kv.Config

	// Auth configuration
	Auth AuthConfig

	// RBAC configuration
	RBAC RBACConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORS origins allowed to call the API. Empty disables CORS handling.
	CORSOrigins []string
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	// JWTSecret is the HMAC key used to verify bearer tokens.
	JWTSecret string

	// Issuer and Audience are checked when non-empty.
	Issuer   string
	Audience string

	// Claims cache
	TokenCacheSize int
	TokenCacheTTL  time.Duration
}

// RBACConfig holds role directory settings
type RBACConfig struct {
	// SeedPath points to the YAML seed file. Empty disables seeding.
	SeedPath string

	// SeedWatch reloads the seed file when it changes on disk.
	SeedWatch bool

	// SweepInterval is how often the janitor repairs the directory.
	SweepInterval time.Duration
}

// RateLimitConfig holds API rate limiting settings
type RateLimitConfig struct {
	// Enabled turns the per-caller request budget on.
	Enabled bool

	// RequestsPerWindow is the budget each caller gets per window.
	RequestsPerWindow int

	// Window is the fixed counting window.
	Window time.Duration

	// FailOpen lets requests through when the store cannot answer.
	FailOpen bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool    // Use insecure gRPC connection
	OTelSampleRatio    float64 // Fraction of traces to record; 0 and 1 record all
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Auth:          loadAuthConfig(),
		RBAC:          loadRBACConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CURATOR_HOST", "0.0.0.0"),
		Port:            getEnv("CURATOR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CURATOR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CURATOR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CURATOR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CURATOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CURATOR_HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("CURATOR_CORS_ORIGINS", nil),
	}
}

// loadStoreConfig loads key-value store configuration from environment
func loadStoreConfig() kv.Config {
	cfg := kv.DefaultConfig()

	if url := getEnv("CURATOR_STORE_URL", ""); url != "" {
		cfg.URL = url
	}
	if password := getEnv("CURATOR_STORE_PASSWORD", ""); password != "" {
		cfg.Password = password
	}
	if db := getEnvInt("CURATOR_STORE_DB", -1); db >= 0 {
		cfg.DB = db
	}
	if poolSize := getEnvInt("CURATOR_STORE_POOL_SIZE", 0); poolSize > 0 {
		cfg.PoolSize = poolSize
	}
	if inMemory := getEnv("CURATOR_STORE_IN_MEMORY", ""); inMemory != "" {
		cfg.InMemory = strings.ToLower(inMemory) == "true"
	}
	if prefix := getEnv("CURATOR_STORE_KEY_PREFIX", ""); prefix != "" {
		cfg.KeyPrefix = prefix
	}
	if timeout := getEnvDuration("CURATOR_STORE_CONNECT_TIMEOUT", 0); timeout > 0 {
		cfg.ConnectTimeout = timeout
	}
	if timeout := getEnvDuration("CURATOR_STORE_PING_TIMEOUT", 0); timeout > 0 {
		cfg.PingTimeout = timeout
	}
	if interval := getEnvDuration("CURATOR_STORE_KEEPALIVE_INTERVAL", 0); interval > 0 {
		cfg.KeepaliveInterval = interval
	}
	if attempts := getEnvInt("CURATOR_STORE_MAX_RECONNECT_ATTEMPTS", 0); attempts > 0 {
		cfg.MaxReconnectAttempts = attempts
	}
	if base := getEnvDuration("CURATOR_STORE_RECONNECT_BASE", 0); base > 0 {
		cfg.ReconnectBase = base
	}
	if cap := getEnvDuration("CURATOR_STORE_RECONNECT_CAP", 0); cap > 0 {
		cfg.ReconnectCap = cap
	}
	if interval := getEnvDuration("CURATOR_STORE_MIN_RECONNECT_INTERVAL", 0); interval > 0 {
		cfg.MinReconnectInterval = interval
	}

	return cfg
}

// loadAuthConfig loads token verification configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:      getEnv("CURATOR_JWT_SECRET", ""),
		Issuer:         getEnv("CURATOR_JWT_ISSUER", ""),
		Audience:       getEnv("CURATOR_JWT_AUDIENCE", ""),
		TokenCacheSize: getEnvInt("CURATOR_TOKEN_CACHE_SIZE", 1024),
		TokenCacheTTL:  getEnvDuration("CURATOR_TOKEN_CACHE_TTL", 5*time.Minute),
	}
}

// loadRBACConfig loads role directory configuration from environment
func loadRBACConfig() RBACConfig {
	return RBACConfig{
		SeedPath:      getEnv("CURATOR_SEED_PATH", ""),
		SeedWatch:     getEnvBool("CURATOR_SEED_WATCH", true),
		SweepInterval: getEnvDuration("CURATOR_SWEEP_INTERVAL", time.Hour),
	}
}

// loadRateLimitConfig loads rate limiting configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("CURATOR_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("CURATOR_RATE_LIMIT_REQUESTS", 300),
		Window:            getEnvDuration("CURATOR_RATE_LIMIT_WINDOW", time.Minute),
		FailOpen:          getEnvBool("CURATOR_RATE_LIMIT_FAIL_OPEN", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("CURATOR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CURATOR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CURATOR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CURATOR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CURATOR_OTEL_SERVICE_NAME", "curator-api"),
		OTelServiceVersion: getEnv("CURATOR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CURATOR_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CURATOR_OTEL_SAMPLE_RATIO", 1.0),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate store config
	if !c.Store.InMemory && c.Store.URL == "" {
		return fmt.Errorf("store URL is required unless in-memory mode is enabled")
	}
	if c.Store.MaxReconnectAttempts < 1 {
		return fmt.Errorf("store max reconnect attempts must be at least 1")
	}
	if c.Store.ReconnectBase > c.Store.ReconnectCap {
		return fmt.Errorf("store reconnect base must not exceed the cap")
	}

	// Validate auth config
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.TokenCacheSize < 0 {
		return fmt.Errorf("token cache size must not be negative")
	}

	// Validate rate limit config
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate limit requests per window must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
