// Package config reads daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// GetEnvDuration parses an environment variable as a duration, falling back
// when unset or unparseable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetEnvInt parses an environment variable as an integer, falling back when
// unset or unparseable.
func GetEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// DatabaseURL builds the postgres URL for the migration runner from the
// same DB_* variables the daemon connects with.
func DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		GetEnv("DB_USER", "postgres"),
		GetEnv("DB_PASSWORD", "postgres"),
		GetEnv("DB_HOST", "localhost"),
		GetEnvInt("DB_PORT", 5432),
		GetEnv("DB_NAME", "outpost"),
		GetEnv("DB_SSL_MODE", "disable"),
	)
}

// Server holds the daemon's runtime configuration.
type Server struct {
	// ListenAddress is the address the management API binds to.
	ListenAddress string
	// ReconcileInterval is how often the display-record cache is reconciled
	// against live provider state.
	ReconcileInterval time.Duration
	// MetricsURL and ErrorReportingURL are passed through to the guest
	// install script when set.
	MetricsURL        string
	ErrorReportingURL string
	// ContainerImage overrides the relay image installed on new servers.
	ContainerImage string
	// GCPProjectID scopes all Google Compute Engine calls.
	GCPProjectID string
}

// LoadServer builds the daemon configuration from the environment.
func LoadServer() Server {
	return Server{
		ListenAddress:     GetEnv("OUTPOST_LISTEN_ADDRESS", "127.0.0.1:7355"),
		ReconcileInterval: GetEnvDuration("OUTPOST_RECONCILE_INTERVAL", time.Minute),
		MetricsURL:        GetEnv("OUTPOST_METRICS_URL", ""),
		ErrorReportingURL: GetEnv("OUTPOST_ERROR_REPORTING_URL", ""),
		ContainerImage:    GetEnv("OUTPOST_CONTAINER_IMAGE", ""),
		GCPProjectID:      GetEnv("OUTPOST_GCP_PROJECT", ""),
	}
}
