// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles and runs the sidecar service.
//
// The orchestrator wires every stage of the recommendation pipeline from a
// config.Config, starts the background work (TTL sweeper, rulebook watcher)
// and serves the HTTP API.
//
//	┌────────────┐   ┌──────────────────────── sidecar.Pipeline ─────────────────────────┐
//	│ gin router │──►│ pii_gateway → rulebook ∥ llm → trust_scorer → logic_guard → router │
//	└────────────┘   └────────────────────────────────────────────────────────────────────┘
//	                       ▲ ttl.Sweeper evicts token entries and queue items
//
// # Extension points
//
// extensions.ServiceOptions supplies the reviewer AuthProvider and the
// AuditLogger. Nil fields fall back to a StaticTokenProvider built from
// auth.reviewer_tokens and a SlogAuditLogger.
//
// # Usage
//
//	cfg, err := config.Load("sidecar.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/llm"
	"github.com/AleutianAI/SidecarIntelligence/services/logic_guard"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/config"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/observability"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/routes"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/ttl"
	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/sidecar"
	badgerstore "github.com/AleutianAI/SidecarIntelligence/services/storage/badger"
	"github.com/AleutianAI/SidecarIntelligence/services/trust_scorer"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName is reported to the trace collector and used by otelgin.
const serviceName = "sidecar-intelligence"

// shutdownTimeout bounds graceful HTTP shutdown and tracer flush.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the sidecar service lifecycle.
//
// # Thread Safety
//
// Run is called at most once. Router and Pipeline are safe to call at any
// time after New returns.
type Service interface {
	// Run starts the background workers and the HTTP server, and blocks until
	// ctx is cancelled or the server fails. Resources are released on return.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine

	// Pipeline returns the recommendation pipeline.
	Pipeline() *sidecar.Pipeline

	// Close releases resources without running. Safe to call after Run.
	Close() error
}

// =============================================================================
// Components
// =============================================================================

// Components are the assembled pipeline stages and the stores behind them.
//
// # Description
//
// Built by Build from a config.Config. The CLI's offline evaluate command
// uses Components directly; the HTTP service wraps them in a Service.
//
// # Fields
//
//   - Pipeline: The assembled request pipeline.
//   - Rules: The rulebook store (file-backed when rules.path is set).
//   - Gateway: The PII gateway; its token store is a TTL evictor.
//   - Router: The validation router; its queue is a TTL evictor.
//   - Metrics: Nil when metrics are disabled.
//   - Registry: The Prometheus registry behind Metrics; nil when disabled.
//   - DB: The BadgerDB behind the decision log; nil for the in-memory log.
type Components struct {
	Pipeline *sidecar.Pipeline
	Rules    *rulebook.Store
	Gateway  *pii_gateway.Gateway
	Router   *validation_router.Router
	Metrics  *observability.SidecarMetrics
	Registry *prometheus.Registry
	DB       *badgerstore.DB
}

// Build assembles every pipeline stage from cfg.
//
// # Description
//
// Load order follows the data flow: rulebook, guard rules, citation catalog,
// PII gateway, decision log, validation router, model advisor, pipeline.
// Every catalog falls back to its embedded default when its path is empty.
//
// # Inputs
//
//   - cfg: A validated configuration.
//   - audit: Audit sink shared by the gateway, guard and router. Nil discards.
//   - logger: Base logger. Nil uses slog.Default().
//
// # Outputs
//
//   - *Components: Ready components. Call Close when done.
//   - error: Non-nil if any catalog is invalid or a store cannot be opened.
func Build(cfg *config.Config, audit extensions.AuditLogger, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	c := &Components{}

	if cfg.Metrics.Enabled {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		c.Metrics = observability.NewSidecarMetrics(c.Registry)
	}

	store, err := rulebook.OpenStore(cfg.Rules.Path, logger.With("component", "rulebook"))
	if err != nil {
		return nil, fmt.Errorf("failed to load rulebook: %w", err)
	}
	c.Rules = store

	guard, err := logic_guard.Load(cfg.Guard.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load guard rules: %w", err)
	}

	catalog, err := trust_scorer.LoadCatalog(cfg.Citations.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load citation catalog: %w", err)
	}

	c.Gateway, err = pii_gateway.New(pii_gateway.Config{
		PatternsPath: cfg.PII.PatternsPath,
		TokenTTL:     cfg.PII.TokenTTL,
		MaxEntries:   cfg.PII.MaxEntries,
		SecureMemory: cfg.PII.SecureMemory,
	}, audit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PII gateway: %w", err)
	}

	var decisions validation_router.DecisionLog
	if cfg.Decisions.Path != "" {
		dbCfg := badgerstore.DefaultConfig(cfg.Decisions.Path)
		dbCfg.Logger = logger.With("component", "badger")
		c.DB, err = badgerstore.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open decision log: %w", err)
		}
		decisions = validation_router.NewBadgerDecisionLog(c.DB)
	} else {
		logger.Info("Decision log path not configured, keeping decisions in memory")
		decisions = validation_router.NewMemoryDecisionLog()
	}

	c.Router, err = validation_router.New(cfg.Policy(), store, validation_router.Options{
		Queue:     validation_router.NewQueue(cfg.Queue.SnapshotTTL),
		Decisions: decisions,
		Audit:     audit,
		Logger:    logger,
		Retention: cfg.Queue.Retention,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize validation router: %w", err)
	}

	advisor, err := newAdvisor(cfg.Model, logger)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize model advisor: %w", err)
	}

	c.Pipeline, err = sidecar.New(sidecar.Dependencies{
		Gateway:      c.Gateway,
		Rules:        store,
		Catalog:      catalog,
		Guard:        guard,
		Router:       c.Router,
		Advisor:      advisor,
		ModelTimeout: cfg.Model.Timeout,
		Audit:        audit,
		Metrics:      c.Metrics,
		Logger:       logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	logger.Info("Sidecar pipeline assembled",
		"rulebook_version", store.Current().Version(),
		"rules", store.Current().Len(),
		"guard_rules", len(guard.Rules()),
		"citations", catalog.Len(),
		"model_backend", cfg.Model.Backend,
		"durable_decisions", c.DB != nil)
	return c, nil
}

// Evictors returns the stores the TTL sweeper drains, each counting its
// evictions in Metrics.
func (c *Components) Evictors() []ttl.Evictor {
	return []ttl.Evictor{
		countingEvictor{Evictor: c.Gateway.Store(), metrics: c.Metrics},
		countingEvictor{Evictor: c.Router, metrics: c.Metrics},
	}
}

// Close stops the rulebook watcher and closes the decision log.
func (c *Components) Close() error {
	var errs []error
	if c.Rules != nil {
		errs = append(errs, c.Rules.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
		c.DB = nil
	}
	return errors.Join(errs...)
}

// newAdvisor selects the model backend. BackendNone runs rules-only.
func newAdvisor(cfg config.ModelConfig, logger *slog.Logger) (llm.Advisor, error) {
	var client llm.LLMClient
	switch cfg.Backend {
	case config.BackendOpenAI:
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{Model: cfg.Name, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		client = c
	case config.BackendOllama:
		c, err := llm.NewOllamaClient(cfg.BaseURL, cfg.Name, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return llm.NopAdvisor{}, nil
	}
	return llm.NewLLMAdvisor(client, llm.AdvisorConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, logger), nil
}

// countingEvictor records evictions in the sidecar metrics.
type countingEvictor struct {
	ttl.Evictor
	metrics *observability.SidecarMetrics
}

func (e countingEvictor) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := e.Evictor.EvictExpired(ctx, now)
	e.metrics.RecordEvictions(e.Name(), n)
	return n, err
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Validated configuration.
//   - opts: Extension options with defaults applied.
//   - components: Pipeline stages and stores.
//   - router: Gin engine with every route registered.
//   - sweeper: TTL sweeper over the token store and review queue.
//   - tracerCleanup: Flushes the span exporter; nil when tracing is off.
type service struct {
	config        *config.Config
	opts          extensions.ServiceOptions
	logger        *slog.Logger
	components    *Components
	router        *gin.Engine
	sweeper       *ttl.Sweeper
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates the sidecar Service.
//
// # Description
//
// New initializes, in order:
//  1. OpenTelemetry tracing, when otel.endpoint is set
//  2. The pipeline components (see Build)
//  3. The TTL sweeper
//  4. The Gin router with otelgin middleware and every route
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - opts: Extension options. May be nil.
//   - logger: Base logger. Nil uses slog.Default().
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize.
func New(cfg *config.Config, opts *extensions.ServiceOptions, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{config: cfg, logger: logger}

	if opts != nil {
		s.opts = *opts
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = extensions.NewStaticTokenProvider(cfg.Auth.ReviewerTokens).
			WithAdmins(cfg.Auth.Admins...)
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = extensions.NewSlogAuditLogger(logger)
	}

	if cfg.OTel.Endpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	} else {
		slog.Info("OTel endpoint not configured, tracing disabled")
	}

	components, err := Build(cfg, s.opts.AuditLogger, logger)
	if err != nil {
		s.cleanup()
		return nil, err
	}
	s.components = components

	s.sweeper, err = ttl.NewSweeper(ttl.SweeperConfig{
		Interval: cfg.Queue.SweepInterval,
		Logger:   logger,
	}, components.Evictors()...)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize TTL sweeper: %w", err)
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the sweeper, the optional rulebook watcher and the HTTP server.
//
// # Description
//
// Blocks until ctx is cancelled (graceful shutdown, nil error) or the server
// fails to listen. Cleanup always runs on return.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start TTL sweeper: %w", err)
	}
	if s.config.Rules.Watch && s.config.Rules.Path != "" {
		go func() {
			if err := s.components.Rules.Watch(ctx); err != nil {
				s.logger.Error("Rulebook watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting sidecar server", "port", s.config.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		s.logger.Info("Shutting down sidecar server")
		return srv.Shutdown(shutdownCtx)
	}
}

// Router returns the Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Pipeline returns the recommendation pipeline.
func (s *service) Pipeline() *sidecar.Pipeline {
	return s.components.Pipeline
}

// Close releases resources.
func (s *service) Close() error {
	s.cleanup()
	return nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the OTLP gRPC span exporter.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (collector on the local network).
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTel.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}
	return cleanup, nil
}

// initRouter creates the Gin engine and registers routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))

	deps := routes.Dependencies{
		Pipeline: s.components.Pipeline,
		Metrics:  s.components.Metrics,
	}
	if s.components.Registry != nil {
		deps.Gatherer = s.components.Registry
	}
	routes.SetupRoutes(router, deps, s.opts)
	s.router = router
}

// cleanup stops background work and releases resources. Safe to call more
// than once.
func (s *service) cleanup() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.components != nil {
		if err := s.components.Close(); err != nil {
			s.logger.Warn("Failed to close sidecar components", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

var _ Service = (*service)(nil)
