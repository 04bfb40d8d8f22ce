// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator assembles the WasteHunter HTTP service: routing,
// the finding registry, the remediation pipeline, and observability.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/orchestrator/middleware"
	"github.com/AleutianAI/wastehunter/services/orchestrator/observability"
	"github.com/AleutianAI/wastehunter/services/orchestrator/routes"
	"github.com/AleutianAI/wastehunter/services/pipeline"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/scanner"
)

// Service is the orchestrator lifecycle contract. Run blocks; Router exposes
// the configured engine for integration tests.
type Service interface {
	Run() error
	Router() *gin.Engine
}

// Config holds service-level options. All fields have defaults applied by
// New.
type Config struct {
	// Port is the HTTP server port. Default: 8780.
	Port int

	// OTelEndpoint is the OpenTelemetry collector endpoint. Empty disables
	// tracing.
	OTelEndpoint string

	// EnableMetrics exposes /metrics and records per-route metrics.
	// Default: true.
	EnableMetrics *bool

	// GinMode sets the gin framework mode ("debug", "release", "test").
	GinMode string

	// AllowedOrigins restricts CORS. Empty allows any origin.
	AllowedOrigins []string

	// JanitorInterval is how often completed progress entries are swept.
	// Default: 5 minutes.
	JanitorInterval time.Duration

	// ScanThresholds controls what the scan endpoint treats as idle.
	// Zero value uses scanner.DefaultThresholds.
	ScanThresholds scanner.Thresholds
}

// Deps carries the collaborators the service routes traffic to. All fields
// are required except Graph, which may be nil when no graph store is
// configured (assessments then fail closed).
type Deps struct {
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline
	Scanner  scanner.Scanner
	Graph    graph.Store
}

type service struct {
	config        Config
	deps          Deps
	router        *gin.Engine
	janitor       *registry.Janitor
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// New builds the service: tracer, metrics, progress janitor, router.
func New(cfg Config, deps Deps) (Service, error) {
	if deps.Registry == nil || deps.Pipeline == nil || deps.Scanner == nil {
		return nil, fmt.Errorf("orchestrator: registry, pipeline and scanner are required")
	}
	s := &service{config: applyConfigDefaults(cfg), deps: deps}

	if s.config.OTelEndpoint != "" {
		cleanup, err := initTracer(s.config.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.janitor = registry.NewJanitor(deps.Registry, registry.JanitorConfig{
		Interval: s.config.JanitorInterval,
	})
	if err := s.janitor.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start progress janitor: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting wastehunter server", "port", s.config.Port)
	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8780
	}
	if cfg.EnableMetrics == nil {
		enabled := true
		cfg.EnableMetrics = &enabled
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 5 * time.Minute
	}
	if cfg.ScanThresholds == (scanner.Thresholds{}) {
		cfg.ScanThresholds = scanner.DefaultThresholds()
	}
	return cfg
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.CORS(s.config.AllowedOrigins))
	if s.config.OTelEndpoint != "" {
		s.router.Use(otelgin.Middleware("wastehunter-service"))
	}
	if *s.config.EnableMetrics {
		s.router.Use(observability.Middleware(observability.InitMetrics()))
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Registry:   s.deps.Registry,
		Pipeline:   s.deps.Pipeline,
		Scanner:    s.deps.Scanner,
		Thresholds: s.config.ScanThresholds,
		Graph:      s.deps.Graph,
	})
}

func (s *service) cleanup() {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// initTracer sets up the OTLP trace exporter against the collector. The
// gRPC connection is insecure, which is appropriate for the in-cluster
// collectors this ships spans to.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("wastehunter-service")))
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
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}
