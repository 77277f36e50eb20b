package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aristath/taskgraph/internal/cache"
	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/mirror"
	"github.com/aristath/taskgraph/internal/observability"
	"github.com/aristath/taskgraph/internal/orchestrator"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/plans"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    persistence.Store
	bus      *events.EventBus
	activity *observability.Activity
	syncer   *mirror.Syncer
	svc      *orchestrator.Service
}

// newApp wires store, cache, bus, mirror and service from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(events.WithDropHandler(func(topic string, _ events.Event) {
		metrics.BusDropped(topic)
	}))

	repo := plans.NewRepository(store, cache.New(cfg.Cache.MaxSessions, metrics),
		plans.WithPublisher(bus),
		plans.WithMetrics(metrics),
		plans.WithLogger(logger))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		store:    store,
		bus:      bus,
		activity: observability.NewActivity(metrics, logger),
	}
	// Zero buffer selects the bus default
	a.activity.Start(bus, 0)

	if cfg.Mirror.Enabled {
		memory, err := openMemory(ctx, cfg.Mirror, logger)
		if err != nil {
			a.activity.Stop()
			bus.Close()
			store.Close()
			return nil, err
		}
		a.syncer = mirror.NewSyncer(memory,
			mirror.WithSearchLimit(cfg.Mirror.SearchLimit),
			mirror.WithSyncerMetrics(metrics),
			mirror.WithSyncerLogger(logger))
		a.syncer.Start(bus, cfg.Mirror.QueueSize)
	}

	a.svc = orchestrator.NewService(repo, orchestrator.Config{
		Validation: scheduler.GraphOptions{
			RejectUnknownDependencies: cfg.Validation.RejectUnknownDependencies,
			RejectCycles:              cfg.Validation.RejectCycles,
		},
		Events:  bus,
		Metrics: metrics,
		Logger:  logger,
	})

	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Driver {
	case "badger":
		bc := persistence.DefaultBadgerConfig(cfg.Path)
		bc.Logger = logger.With("component", "badger")
		store, err := persistence.NewBadgerStore(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return store, nil
	case "", "sqlite":
		store, err := persistence.NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openMemory returns the Weaviate mirror behind retry and a circuit breaker,
// or an in-process memory when no URL is configured.
func openMemory(ctx context.Context, cfg config.MirrorConfig, logger *slog.Logger) (mirror.Memory, error) {
	if cfg.WeaviateURL == "" {
		logger.Info("mirror using in-process memory")
		return mirror.NewLocalMemory(), nil
	}

	client, err := mirror.NewWeaviateClient(cfg.WeaviateURL)
	if err != nil {
		return nil, err
	}
	wm, err := mirror.NewWeaviateMemory(client, cfg.ClassName, logger)
	if err != nil {
		return nil, err
	}
	// The mirror is best effort; an unreachable Weaviate must not stop the process
	if err := wm.EnsureSchema(ctx); err != nil {
		logger.Warn("weaviate schema check failed", slog.String("error", err.Error()))
	}

	retry := mirror.DefaultRetryConfig()
	retry.InitialInterval = cfg.Retry.InitialInterval.Std()
	retry.MaxInterval = cfg.Retry.MaxInterval.Std()
	retry.MaxElapsedTime = cfg.Retry.MaxElapsedTime.Std()
	retry.Multiplier = cfg.Retry.Multiplier

	breaker := mirror.NewBreaker("weaviate", mirror.BreakerConfig{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Timeout:             cfg.Breaker.Timeout.Std(),
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, logger)

	return mirror.NewResilientMemory(wm, breaker, retry), nil
}

// close drains the mirror and the activity log, then releases the store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.syncer != nil {
		closeCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout := a.cfg.Mirror.CloseTimeout.Std(); timeout > 0 {
			closeCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		if err := a.syncer.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain mirror: %w", err))
		}
		cancel()
	}
	a.activity.Stop()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
