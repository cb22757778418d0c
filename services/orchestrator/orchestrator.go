// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the profrag chat service.
//
// The service wires the HTTP layer to the chat pipeline and its three
// providers: the embedding model, the Weaviate review index and the chat
// model.
//
// # Usage
//
// Production (providers built from Config):
//
//	svc, err := orchestrator.New(ctx, cfg, orchestrator.Deps{})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
//
// Tests (providers injected):
//
//	svc, err := orchestrator.New(ctx, cfg, orchestrator.Deps{
//	    Provider: fakeProvider,
//	    Index:    fakeIndex,
//	})
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/profrag/services/llm"
	"github.com/AleutianAI/profrag/services/orchestrator/handlers"
	"github.com/AleutianAI/profrag/services/orchestrator/index"
	"github.com/AleutianAI/profrag/services/orchestrator/middleware"
	"github.com/AleutianAI/profrag/services/orchestrator/observability"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/AleutianAI/profrag/services/orchestrator/routes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPort is the HTTP port when Config.Port is zero.
	DefaultPort = 12210

	defaultShutdownTimeout = 10 * time.Second
	defaultRateLimitBurst  = 10
	schemaTimeout          = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Run and Serve block and must be called at most once per instance.
// Router may be called concurrently.
type Service interface {
	// Run listens on the configured port and serves until ctx is cancelled,
	// then shuts down gracefully.
	Run(ctx context.Context) error

	// Serve is Run on a caller-supplied listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured Gin engine.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration.
//
// # Description
//
// All fields are optional. Zero values take the defaults listed on each
// field; retrieval and telemetry defaults are applied per field.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// GinMode is "debug", "release" or "test". Empty leaves gin's mode as is.
	GinMode string

	// LLM selects and configures the embedding and chat provider.
	LLM llm.ProviderConfig

	// Generation holds sampling overrides sent with every completion.
	Generation llm.GenerationParams

	// WeaviateURL is the review index endpoint, e.g. http://weaviate:8080.
	// Required unless Deps.Index is set.
	WeaviateURL string

	// ReviewClass is the Weaviate class holding reviews. Default: ProfessorReview
	ReviewClass string

	// EnsureSchema creates ReviewClass at startup if it does not exist.
	EnsureSchema bool

	// Retrieval configures embedding model, dimensions, top-k and namespace.
	Retrieval rag.RetrieverConfig

	// SystemPrompt replaces the built-in recommender prompt when non-empty.
	SystemPrompt string

	// Telemetry configures tracing and OTel metric export.
	Telemetry observability.TelemetryConfig

	// DisableMetrics turns off the Prometheus /metrics endpoint.
	DisableMetrics bool

	// RateLimitRPS caps chat requests per second. 0 disables limiting.
	RateLimitRPS float64

	// RateLimitBurst is the limiter bucket size. Default: 10
	RateLimitBurst int

	// MaxBodyBytes caps the chat request body. Default: 1 MiB
	MaxBodyBytes int64

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// Deps are optional pre-built dependencies. Nil fields are built from
// Config.
//
// # Fields
//
//   - Provider: Embedding and chat provider.
//   - Index: Review index.
//   - Ready: Readiness probe target. Defaults to the Weaviate index when
//     New builds one.
//   - Metrics: Prometheus metrics. Defaults to observability.DefaultMetrics.
type Deps struct {
	Provider llm.Provider
	Index    rag.VectorIndex
	Ready    handlers.ReadinessChecker
	Metrics  *observability.StreamingMetrics
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Configuration with defaults applied
//   - router: Gin HTTP engine
//   - pipeline: Chat pipeline shared by all requests
//   - shutdownTelemetry: Flushes trace and metric providers
//
// # Thread Safety
//
// All fields are read-only after New returns.
type service struct {
	config            Config
	router            *gin.Engine
	pipeline          *rag.Pipeline
	shutdownTelemetry func(context.Context) error
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *observability.StreamingMetrics
)

// processMetrics registers the Prometheus metrics once per process.
func processMetrics() *observability.StreamingMetrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for chat streaming")
	})
	return defaultMetrics
}

// =============================================================================
// Constructor
// =============================================================================

// New creates the orchestrator Service.
//
// # Description
//
// New initializes, in order:
//  1. Telemetry: tracer provider, meter provider, propagator
//  2. Prometheus metrics and OTel stage instruments
//  3. Weaviate client and review index (unless Deps.Index is set)
//  4. The LLM provider (unless Deps.Provider is set)
//  5. The chat pipeline and HTTP router
//
// # Inputs
//
//   - ctx: Bounds startup calls such as schema creation.
//   - cfg: Configuration. Zero values use defaults.
//   - deps: Injected dependencies. Zero value builds everything.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Telemetry, index or provider construction failed.
//
// # Limitations
//
//   - A failed schema check is logged, not returned; queries will report
//     IndexProviderError until the class exists.
func New(ctx context.Context, cfg Config, deps Deps) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	shutdown, err := observability.InitTelemetry(ctx, s.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.shutdownTelemetry = shutdown

	metrics := deps.Metrics
	if metrics == nil && !s.config.DisableMetrics {
		metrics = processMetrics()
	}

	stages, err := observability.NewStageMetrics(otel.Meter("profrag.orchestrator"))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create stage metrics: %w", err)
	}

	vectorIndex, ready := deps.Index, deps.Ready
	if vectorIndex == nil {
		idx, err := s.initWeaviate(ctx)
		if err != nil {
			s.cleanup()
			return nil, err
		}
		vectorIndex = idx
		if ready == nil {
			ready = idx
		}
	}

	provider := deps.Provider
	if provider == nil {
		provider, err = llm.NewProvider(s.config.LLM)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
		}
		slog.Info("LLM provider initialized", "backend", s.config.LLM.Backend)
	}

	s.pipeline = rag.NewPipeline(
		rag.NewRetriever(provider, vectorIndex, s.config.Retrieval),
		rag.NewAssembler(s.config.SystemPrompt),
		provider,
		rag.WithGenerationParams(s.config.Generation),
		rag.WithStageObserver(stages),
	)

	s.initRouter(metrics, ready)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled.
//
// # Description
//
// The server and its shutdown watcher run in one errgroup. Cancelling ctx
// stops accepting connections and waits up to ShutdownTimeout for open
// streams to finish. Telemetry is flushed on return.
//
// # Outputs
//
//   - error: nil after a clean shutdown; otherwise the serve or shutdown
//     failure.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting orchestrator server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down orchestrator server", "timeout", s.config.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	def := observability.DefaultTelemetryConfig()
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = def.ServiceVersion
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = def.TraceExporter
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = def.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = def.OTLPEndpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = def.SampleRate
	}
	return cfg
}

// initWeaviate connects to the review index and optionally creates its
// class.
func (s *service) initWeaviate(ctx context.Context) (*index.WeaviateIndex, error) {
	if s.config.WeaviateURL == "" {
		return nil, errors.New("weaviate URL is required")
	}
	client, err := index.NewWeaviateClient(s.config.WeaviateURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	idx := index.NewWeaviateIndex(client, s.config.ReviewClass)

	if s.config.EnsureSchema {
		schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
		defer cancel()
		if err := idx.EnsureSchema(schemaCtx); err != nil {
			slog.Warn("Weaviate schema check failed, continuing",
				"class", idx.ClassName(),
				"error", err)
		}
	}

	slog.Info("Weaviate review index initialized",
		"url", s.config.WeaviateURL,
		"class", idx.ClassName())
	return idx, nil
}

// initRouter builds the Gin engine with middleware and routes.
func (s *service) initRouter(metrics *observability.StreamingMetrics, ready handlers.ReadinessChecker) {
	s.router = gin.New()
	s.router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(nil, "/health", "/ready", "/metrics"),
		otelgin.Middleware(s.config.Telemetry.ServiceName),
	)

	chat := handlers.NewChatHandler(s.pipeline, metrics, handlers.WithMaxBodyBytes(s.config.MaxBodyBytes))
	routes.SetupRoutes(s.router, routes.Deps{
		Chat:           chat,
		Ready:          ready,
		Metrics:        !s.config.DisableMetrics,
		ChatMiddleware: []gin.HandlerFunc{middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst)},
	})
}

// cleanup flushes telemetry. Safe to call more than once.
func (s *service) cleanup() {
	if s.shutdownTelemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdownTelemetry(ctx); err != nil {
		slog.Error("Failed to shut down telemetry", "error", err)
	}
	s.shutdownTelemetry = nil
}

var _ Service = (*service)(nil)
