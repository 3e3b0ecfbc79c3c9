package main

import (
	"context"
	"fmt"

	"github.com/odysseyhq/odyssey/pkg/agent"
	"github.com/odysseyhq/odyssey/pkg/artifacts"
	"github.com/odysseyhq/odyssey/pkg/capability"
	"github.com/odysseyhq/odyssey/pkg/config"
	"github.com/odysseyhq/odyssey/pkg/connector"
	"github.com/odysseyhq/odyssey/pkg/contracts"
	"github.com/odysseyhq/odyssey/pkg/engine"
	"github.com/odysseyhq/odyssey/pkg/limiter"
	"github.com/odysseyhq/odyssey/pkg/observability"
	"github.com/odysseyhq/odyssey/pkg/orchestrator"
	"github.com/odysseyhq/odyssey/pkg/surface"
	"github.com/odysseyhq/odyssey/pkg/telemetry"
)

// runtime wires the embedded engine: state surface, contract catalog,
// builtin agent and connectors, telemetry, and admission control.
type runtime struct {
	cfg      *config.Config
	surface  surface.Surface
	engine   *engine.Engine
	tower    *telemetry.ControlTower
	reporter *telemetry.Reporter
	closers  []func() error
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.LogLevel = "DEBUG"
	}
	observability.SetupLogging(cfg.LogLevel)
	return cfg, nil
}

func openSurface(ctx context.Context, cfg *config.Config) (surface.Surface, func() error, error) {
	switch cfg.SurfaceBackend {
	case "memory":
		return surface.NewMemory(), nil, nil
	case "sqlite":
		s, err := surface.OpenSQLite(ctx, cfg.SurfaceDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := surface.OpenPostgres(ctx, cfg.SurfaceDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown surface backend %q", cfg.SurfaceBackend)
	}
}

// newRuntime assembles the full engine. Commands that only read the ledger
// use openSurface directly instead.
func newRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	surf, closeSurf, err := openSurface(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, surface: surf}
	if closeSurf != nil {
		rt.closers = append(rt.closers, closeSurf)
	}

	catalog := contracts.NewCatalog()
	if err := contracts.LoadSolutionDir(cfg.ContractsDir, catalog); err != nil {
		rt.close()
		return nil, fmt.Errorf("load contracts: %w", err)
	}

	rt.tower = telemetry.NewControlTower(telemetry.TowerConfig{MaxWindow: cfg.TowerWindow})
	rt.reporter = telemetry.NewReporter(telemetry.ReporterConfig{
		ComponentID:   "odyssey",
		BufferSize:    cfg.TelemetryBufferSize,
		FlushInterval: cfg.TelemetryFlushInterval,
	}, rt.tower)
	rt.closers = append(rt.closers, func() error {
		return rt.reporter.Close(context.Background())
	})

	agents := agent.NewRegistry()
	agents.Register(&agent.Static{})

	connectors := connector.NewRegistry()
	connectors.Register(connector.NewEcho())

	checker, err := capability.NewChecker()
	if err != nil {
		rt.close()
		return nil, err
	}

	store, err := artifacts.NewFile(cfg.ArtifactsDir)
	if err != nil {
		rt.close()
		return nil, err
	}

	deps := orchestrator.Deps{
		Surface:    surf,
		Agents:     agents,
		Connectors: connectors,
		Checker:    checker,
		Artifacts:  store,
		Telemetry:  rt.reporter,
	}
	registry := capability.NewRegistry()
	registry.Register("graph", orchestrator.Factory(deps))
	registry.Register("sequential", orchestrator.Factory(deps))

	var limits limiter.Store
	if cfg.RedisAddr != "" {
		r := limiter.NewRedis(cfg.RedisAddr, "", 0)
		rt.closers = append(rt.closers, r.Close)
		limits = r
	} else {
		limits = limiter.NewMemory()
	}

	rt.engine = engine.New(engine.Config{
		Deadline: cfg.ExecutionDeadline,
		Limit:    limiter.Policy{PerMinute: cfg.SubmitPerMinute, Burst: cfg.SubmitBurst},
	}, surf, catalog, registry, limits, rt.reporter)

	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
}
