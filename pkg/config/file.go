package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileOverlay mirrors Config with string durations so YAML files can use
// the usual "90s" / "5m" notation.
type fileOverlay struct {
	LogLevel               string `yaml:"log_level"`
	ExecutionDeadline      string `yaml:"execution_deadline"`
	SubmitPerMinute        int    `yaml:"submit_per_minute"`
	SubmitBurst            int    `yaml:"submit_burst"`
	SurfaceBackend         string `yaml:"surface_backend"`
	SurfaceDSN             string `yaml:"surface_dsn"`
	ContractsDir           string `yaml:"contracts_dir"`
	ArtifactsDir           string `yaml:"artifacts_dir"`
	TelemetryBufferSize    int    `yaml:"telemetry_buffer_size"`
	TelemetryFlushInterval string `yaml:"telemetry_flush_interval"`
	TowerWindow            string `yaml:"tower_window"`
	OTLPEndpoint           string `yaml:"otlp_endpoint"`
	ExportInterval         string `yaml:"export_interval"`
	RedisAddr              string `yaml:"redis_addr"`
}

// LoadFile overlays a YAML config file on top of the environment-derived
// configuration. Absent fields in the file keep their current values.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := merge(cfg, &o); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func merge(dst *Config, src *fileOverlay) error {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v, field string) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = d
		return nil
	}

	setStr(&dst.LogLevel, src.LogLevel)
	setInt(&dst.SubmitPerMinute, src.SubmitPerMinute)
	setInt(&dst.SubmitBurst, src.SubmitBurst)
	setStr(&dst.SurfaceBackend, src.SurfaceBackend)
	setStr(&dst.SurfaceDSN, src.SurfaceDSN)
	setStr(&dst.ContractsDir, src.ContractsDir)
	setStr(&dst.ArtifactsDir, src.ArtifactsDir)
	setInt(&dst.TelemetryBufferSize, src.TelemetryBufferSize)
	setStr(&dst.OTLPEndpoint, src.OTLPEndpoint)
	setStr(&dst.RedisAddr, src.RedisAddr)

	if err := setDur(&dst.ExecutionDeadline, src.ExecutionDeadline, "execution_deadline"); err != nil {
		return err
	}
	if err := setDur(&dst.TelemetryFlushInterval, src.TelemetryFlushInterval, "telemetry_flush_interval"); err != nil {
		return err
	}
	if err := setDur(&dst.TowerWindow, src.TowerWindow, "tower_window"); err != nil {
		return err
	}
	return setDur(&dst.ExportInterval, src.ExportInterval, "export_interval")
}
