// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	CURATOR_HOST="0.0.0.0"
//	CURATOR_PORT="8080"
//	CURATOR_HEALTH_PORT="9090"
//	CURATOR_READ_TIMEOUT="15s"
//	CURATOR_WRITE_TIMEOUT="15s"
//
// Store settings:
//
//	CURATOR_STORE_URL="redis://localhost:6379/0"
//	CURATOR_STORE_IN_MEMORY="false"
//	CURATOR_STORE_KEY_PREFIX="curator:"
//	CURATOR_STORE_MAX_RECONNECT_ATTEMPTS="10"
//	CURATOR_STORE_RECONNECT_BASE="200ms"
//
// Auth settings:
//
//	CURATOR_JWT_SECRET="..."
//	CURATOR_JWT_ISSUER="https://auth.example.com"
//	CURATOR_JWT_AUDIENCE="curator-api"
//	CURATOR_TOKEN_CACHE_SIZE="1024"
//	CURATOR_TOKEN_CACHE_TTL="5m"
//
// RBAC settings:
//
//	CURATOR_SEED_PATH="/etc/curator/seed.yaml"
//	CURATOR_SEED_WATCH="true"
//	CURATOR_SWEEP_INTERVAL="1h"
//
// Observability settings:
//
//	CURATOR_LOG_LEVEL="info"  # debug, info, warn, error
//	CURATOR_METRICS_ENABLED="true"
//	CURATOR_OTEL_ENABLED="true"
//	CURATOR_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Store: %s\n", cfg.Store.URL)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/kv: Uses store configuration
//   - pkg/observability: Uses observability configuration
package config
