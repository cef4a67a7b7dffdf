package bootstrap

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/telbill/robo-ops/config"
	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/data"
	"github.com/telbill/robo-ops/internal/domain/event"
	"github.com/telbill/robo-ops/internal/observability/metrics"
	"github.com/telbill/robo-ops/internal/observability/statsd"
	"github.com/telbill/robo-ops/internal/service"
	"github.com/telbill/robo-ops/internal/stream"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Runs         *service.RunService
	Invoices     *service.InvoiceService
	Orchestrator *service.Orchestrator
	Bus          *event.Bus
	Hub          *stream.Hub
	Contracts    *data.ContractRepo

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink *statsd.Client
	Recorder    *metrics.Recorder
	// stopMetrics detaches the bus metrics subscriber.
	stopMetrics func()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices builds the full service graph: repositories, transition
// engines, the orchestration facade, the event bus, and the websocket hub.
func NewServices(deps *ServiceDeps) *ServiceContainer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
		cfg.Sanitize()
	}

	obs := buildObservability(logger, cfg.Observability)

	runRepo := data.NewRunRepo(deps.DB)
	invoiceRepo := data.NewInvoiceRepo(deps.DB)
	contractRepo := data.NewContractRepo(deps.DB)

	var cache core.SnapshotCache
	if deps.RedisClient != nil {
		cache = data.NewRedisSnapshotCache(deps.RedisClient)
	}

	bus := event.NewBus(event.BusOptions{
		Buffer: cfg.Stream.BusBuffer,
		Logger: logger,
		OnDrop: func(string) { obs.Recorder.SessionDropped() },
	})
	obs.stopMetrics = watchBusMetrics(bus, obs.Recorder, logger)

	runs := service.MustNewRunService(service.RunServiceOptions{
		Runs:      runRepo,
		Contracts: contractRepo,
		Logger:    logger,
	})
	invoices := service.MustNewInvoiceService(service.InvoiceServiceOptions{
		Invoices: invoiceRepo,
		Logger:   logger,
	})
	orchestrator := service.MustNewOrchestrator(service.OrchestratorOptions{
		Runs:      runs,
		Invoices:  invoices,
		Contracts: contractRepo,
		Bus:       bus,
		Cache:     cache,
		Metrics:   obs.Recorder,
		Logger:    logger,
	})
	hub := stream.MustNewHub(stream.HubOptions{
		Bus:               bus,
		Snapshots:         orchestrator,
		Logger:            logger,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		WriteTimeout:      cfg.Stream.WriteTimeout,
	})

	return &ServiceContainer{
		Runs:          runs,
		Invoices:      invoices,
		Orchestrator:  orchestrator,
		Bus:           bus,
		Hub:           hub,
		Contracts:     contractRepo,
		Observability: obs,
	}
}

// Close stops the bus and detaches observability hooks.
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.Observability.stopMetrics != nil {
		c.Observability.stopMetrics()
	}
	if c.Bus != nil {
		c.Bus.Stop()
	}
	if c.Observability.MetricsSink != nil {
		_ = c.Observability.MetricsSink.Close()
	}
}

// buildObservability configures the metrics sink and recorder.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var sink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			sink = client
		}
	}

	var recorder *metrics.Recorder
	if sink != nil {
		recorder = metrics.NewRecorder(sink)
	}

	return ObservabilityContainer{MetricsSink: sink, Recorder: recorder}
}

// watchBusMetrics attaches a wildcard subscriber that counts published
// events by kind. The subscriber only reads envelope metadata, so it drains
// fast enough to never hit the overflow policy in practice.
func watchBusMetrics(bus *event.Bus, rec *metrics.Recorder, logger *slog.Logger) func() {
	if rec == nil {
		return nil
	}

	unsub, ch, err := bus.Subscribe("observability-metrics", event.SubscribeOptions{})
	if err != nil {
		if logger != nil {
			logger.Warn("metrics bus subscription failed", "error", err)
		}
		return nil
	}

	go func() {
		for ev := range ch {
			rec.EventPublished(string(ev.Kind))
			// The gauge excludes this subscriber itself.
			rec.SessionCount(bus.SessionCount() - 1)
		}
	}()

	return unsub
}
