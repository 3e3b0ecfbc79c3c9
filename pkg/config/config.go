// Package config assembles runtime configuration from environment
// variables, optionally overlaid by a YAML file.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine's runtime configuration.
type Config struct {
	LogLevel string

	// Engine
	ExecutionDeadline time.Duration
	SubmitPerMinute   int
	SubmitBurst       int

	// State surface
	SurfaceBackend string // "memory" | "sqlite" | "postgres"
	SurfaceDSN     string

	ContractsDir string
	ArtifactsDir string

	// Telemetry
	TelemetryBufferSize    int
	TelemetryFlushInterval time.Duration
	TowerWindow            time.Duration

	// Observability
	OTLPEndpoint   string
	ExportInterval time.Duration

	// Shared limiter backend; empty keeps limits process-local.
	RedisAddr string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		LogLevel:               envStr("ODYSSEY_LOG_LEVEL", "INFO"),
		ExecutionDeadline:      envDuration("ODYSSEY_EXECUTION_DEADLINE", 5*time.Minute),
		SubmitPerMinute:        envInt("ODYSSEY_SUBMIT_PER_MINUTE", 60),
		SubmitBurst:            envInt("ODYSSEY_SUBMIT_BURST", 10),
		SurfaceBackend:         envStr("ODYSSEY_SURFACE_BACKEND", "sqlite"),
		SurfaceDSN:             envStr("ODYSSEY_SURFACE_DSN", "odyssey.db"),
		ContractsDir:           envStr("ODYSSEY_CONTRACTS_DIR", "contracts"),
		ArtifactsDir:           envStr("ODYSSEY_ARTIFACTS_DIR", "artifacts"),
		TelemetryBufferSize:    envInt("ODYSSEY_TELEMETRY_BUFFER", 1024),
		TelemetryFlushInterval: envDuration("ODYSSEY_TELEMETRY_FLUSH", time.Second),
		TowerWindow:            envDuration("ODYSSEY_TOWER_WINDOW", 5*time.Minute),
		OTLPEndpoint:           os.Getenv("ODYSSEY_OTLP_ENDPOINT"),
		ExportInterval:         envDuration("ODYSSEY_EXPORT_INTERVAL", 15*time.Second),
		RedisAddr:              os.Getenv("ODYSSEY_REDIS_ADDR"),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
