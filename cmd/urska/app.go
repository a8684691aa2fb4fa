package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/admission"
	"github.com/mohammad-safakhou/urska/internal/agent/core"
	"github.com/mohammad-safakhou/urska/internal/agent/roles"
	"github.com/mohammad-safakhou/urska/internal/agent/telemetry"
	"github.com/mohammad-safakhou/urska/internal/queue/streams"
	"github.com/mohammad-safakhou/urska/internal/runtime"
	"github.com/mohammad-safakhou/urska/internal/service"
	"github.com/mohammad-safakhou/urska/internal/store"
	"github.com/mohammad-safakhou/urska/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// app holds everything a command needs to answer questions.
type app struct {
	cfg       *config.Config
	catalogue *tools.Catalogue
	queue     *admission.Queue
	runs      store.RunStore
	redis     redis.UniversalClient
	service   *service.Service
	telemetry *telemetry.Telemetry
	closers   []func() error
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), "["+prefix+"] ", log.LstdFlags)
}

// dialCatalogue connects every configured MCP server and lists their tools.
func dialCatalogue(ctx context.Context, cfg config.ToolsConfig) (*tools.Catalogue, error) {
	logger := newLogger("TOOLS")
	ctx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	defer cancel()
	sources := make([]tools.Source, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		src, err := tools.DialMCP(ctx, sc, logger)
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
			return nil, err
		}
		sources = append(sources, src)
	}
	cat, err := tools.NewCatalogue(ctx, logger, sources...)
	if err != nil {
		for _, s := range sources {
			_ = s.Close()
		}
		return nil, err
	}
	return cat, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
}

// buildApp wires tools, models, the orchestrator, the queue, storage and the
// optional Redis Streams mirror.
func buildApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	cat, err := dialCatalogue(ctx, cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("tool catalogue: %w", err)
	}
	a.catalogue = cat
	a.closers = append(a.closers, cat.Close)

	factory, err := roles.NewFactory(cfg.LLM)
	if err != nil {
		return nil, err
	}
	set, err := roles.Build(factory, cfg.Orchestrator, cat, newLogger("EXEC"))
	if err != nil {
		return nil, err
	}

	a.telemetry = telemetry.NewTelemetry(telemetry.WithLogger(newLogger("TELEMETRY")), telemetry.WithRegisterer(reg))
	orch, err := core.NewOrchestrator(set.Collaborators, cat, core.Options{
		MaxIterations: cfg.Orchestrator.MaxIterations,
		Mode:          cfg.Orchestrator.Mode,
		Logger:        newLogger("ORCH"),
		Telemetry:     a.telemetry,
	})
	if err != nil {
		return nil, err
	}

	a.queue = admission.New(cfg.Queue.Capacity, admission.WithLogger(newLogger("QUEUE")), admission.WithRegisterer(reg))
	a.closers = append(a.closers, func() error { a.queue.Close(); return nil })

	runs, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("run store: %w", err)
	}
	a.runs = runs
	a.closers = append(a.closers, runs.Close)

	opts := []service.Option{service.WithLogger(newLogger("ASK"))}
	if cfg.Orchestrator.Rephrase {
		opts = append(opts, service.WithRephraser(set.Rephraser))
	}
	if cfg.Streams.Enabled {
		registry, err := streams.NewBaseRegistry()
		if err != nil {
			return nil, err
		}
		client := newRedisClient(cfg.Storage.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("streams redis ping: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		opts = append(opts, service.WithPublisher(streams.NewPublisher(client, registry), cfg.Streams))
	}
	a.service = service.New(a.queue, orch, runs, opts...)
	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		a.telemetry.Shutdown()
	}
	return errors.Join(errs...)
}

func setupRuntime(ctx context.Context, cfg *config.Config) (*runtime.Telemetry, error) {
	return runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName: cfg.General.ServiceName,
		Logger:      newLogger("OTEL"),
	})
}
