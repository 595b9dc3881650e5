// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package counsel provides the core ClauseLens service.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, LLM clients, the legal corpus index, the
// contract review pipeline, session storage, and observability
// infrastructure.
//
// # Usage
//
//	cfg := counsel.Config{Port: 12310}
//	svc, err := counsel.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package counsel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/handlers"
	"github.com/clauselens/clauselens/services/counsel/ingest"
	"github.com/clauselens/clauselens/services/counsel/observability"
	"github.com/clauselens/clauselens/services/counsel/retrieval"
	"github.com/clauselens/clauselens/services/counsel/review"
	"github.com/clauselens/clauselens/services/counsel/routes"
	"github.com/clauselens/clauselens/services/counsel/sessionstore"
	"github.com/clauselens/clauselens/services/counsel/storage"
	"github.com/clauselens/clauselens/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the counsel service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called
// once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds counsel service configuration options.
//
// All fields are optional with defaults applied by New(), except
// WeaviateURL and EmbedURL which are required for corpus features:
// without them the service runs in lightweight mode (chat only, no
// retrieval, in-memory sessions).
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// WeaviateURL is the Weaviate vector database URL.
	// If empty, corpus features are disabled.
	WeaviateURL string

	// EmbedURL is the embedding service base URL.
	EmbedURL string

	// EmbedDim is the expected embedding dimension. Default: 768
	EmbedDim int

	// LocalLLMURL is the llama.cpp server base URL.
	// Default: "http://localhost:8081"
	LocalLLMURL string

	// OpenAIAPIKey enables the remote backend when set.
	OpenAIAPIKey string

	// OpenAIModel is the remote model name. Default: "gpt-4o-mini"
	OpenAIModel string

	// OpenAIBaseURL overrides the OpenAI API base URL for compatible
	// gateways. Empty uses the official endpoint.
	OpenAIBaseURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "clauselens-otel-collector:4317"
	OTelEndpoint string

	// BadgerPath is the warm-tier storage directory. Empty runs an
	// in-memory store, which loses reviews on restart.
	BadgerPath string

	// PromptPath points to a YAML prompt library. Empty uses the
	// built-in prompts; when set the file is hot-reloaded on change.
	PromptPath string

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// EnableMetrics enables the Prometheus metrics endpoint.
	EnableMetrics bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction; all fields are read-only after New()
// returns.
type service struct {
	config         Config
	log            *slog.Logger
	router         *gin.Engine
	weaviateClient *weaviate.Client
	db             *badger.DB
	prompts        *review.PromptLibrary
	metrics        *observability.Metrics

	chat        *handlers.ChatService
	coordinator *ingest.Coordinator
	engine      *review.Engine

	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new counsel Service with the given configuration.
//
// # Description
//
// New initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Creates the Weaviate client and ensures the corpus schema
//  4. Opens the badger warm tier and loads the prompt library
//  5. Creates LLM clients and wires ingest, retrieval, sessions,
//     the review engine, and the chat service
//  6. Sets up HTTP routes
//
// Weaviate being unreachable is not fatal: the service degrades to
// lightweight mode with in-memory sessions and no retrieval.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run counsel service
//   - error: Non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		log:    slog.Default(),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		s.metrics = observability.InitMetrics()
		s.log.Info("initialized Prometheus metrics")
	}

	if err := s.initWeaviate(); err != nil {
		s.log.Warn("Weaviate initialization failed, running in lightweight mode",
			"error", err)
		s.weaviateClient = nil
	}

	if err := s.initStorage(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open warm-tier storage: %w", err)
	}

	if err := s.initPrompts(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load prompt library: %w", err)
	}

	if err := s.initComponents(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.Info("starting counsel server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.EmbedDim == 0 {
		cfg.EmbedDim = 768
	}
	if cfg.LocalLLMURL == "" {
		cfg.LocalLLMURL = "http://localhost:8081"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "clauselens-otel-collector:4317"
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("counsel-service")))
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
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate creates the Weaviate client and ensures the corpus
// schema exists. An empty URL is not an error; corpus features are
// simply unavailable.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		s.log.Info("Weaviate URL not configured, running in lightweight mode")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := datatypes.EnsureWeaviateSchema(ctx, s.weaviateClient); err != nil {
		return fmt.Errorf("failed to ensure Weaviate schema: %w", err)
	}
	s.log.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initStorage opens the badger warm tier for reviews and the ingest
// dead-letter queue.
func (s *service) initStorage() error {
	var cfg storage.Config
	if s.config.BadgerPath == "" {
		s.log.Warn("badger path not configured, reviews will not survive restarts")
		cfg = storage.InMemoryConfig()
	} else {
		cfg = storage.DefaultConfig(s.config.BadgerPath)
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// initPrompts loads the prompt library, watching the file for edits
// when a path is configured.
func (s *service) initPrompts() error {
	if s.config.PromptPath == "" {
		s.prompts = review.DefaultPrompts(s.log)
		return nil
	}

	lib, err := review.LoadPromptLibrary(s.config.PromptPath, s.log)
	if err != nil {
		return err
	}
	if err := lib.Watch(s.config.PromptPath); err != nil {
		s.log.Warn("prompt hot-reload unavailable", "error", err)
	}
	s.prompts = lib
	return nil
}

// initComponents wires LLM clients, ingest, retrieval, sessions, the
// review engine, and the chat service.
func (s *service) initComponents() error {
	local, err := llm.NewLocalLlamaCppClient(s.config.LocalLLMURL)
	if err != nil {
		return fmt.Errorf("failed to initialize local LLM client: %w", err)
	}

	var remote llm.LLMClient
	if s.config.OpenAIAPIKey != "" {
		remote, err = llm.NewOpenAIClient(
			s.config.OpenAIAPIKey, s.config.OpenAIModel, s.config.OpenAIBaseURL, "")
		if err != nil {
			return fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		s.log.Info("remote LLM backend enabled", "model", s.config.OpenAIModel)
	} else {
		s.log.Info("no OpenAI key configured, all traffic routes to the local model")
	}

	// The review analyzer uses the strongest available backend.
	analyzerClient := remote
	if analyzerClient == nil {
		analyzerClient = local
	}
	analyzer := review.NewAnalyzer(analyzerClient, s.prompts, review.DefaultAnalyzerConfig(), s.log)

	reviewStore := review.NewStore(s.db)
	engineCfg := review.DefaultEngineConfig()
	s.engine = review.NewEngine(
		reviewStore, review.NewBroker(), analyzer, ingest.PlainTextExtractor{}, engineCfg, s.log)

	var sessions sessionstore.Store
	var search handlers.Searcher
	if s.weaviateClient != nil {
		embedder, err := llm.NewHTTPEmbedder(s.config.EmbedURL, s.config.EmbedDim)
		if err != nil {
			return fmt.Errorf("failed to initialize embedder: %w", err)
		}

		catalog := ingest.NewWeaviateCatalog(s.weaviateClient, s.log)
		dlq := ingest.NewBadgerDeadLetter(s.db)
		s.coordinator = ingest.New(
			catalog, embedder, ingest.PlainTextExtractor{}, dlq, ingest.DefaultConfig(), s.log)

		index := retrieval.NewWeaviateIndex(s.weaviateClient, s.log)
		search = retrieval.New(index, embedder, s.log)

		sessions = sessionstore.NewWeaviateStore(s.weaviateClient, s.log)
	} else {
		sessions = sessionstore.NewMemoryStore()
	}

	s.chat = &handlers.ChatService{
		Sessions: sessions,
		Search:   search,
		Local:    local,
		Remote:   remote,
		Prompts:  s.prompts,
		Metrics:  s.metrics,
		Log:      s.log,
	}

	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("counsel-service"))

	routes.SetupRoutes(s.router, routes.Deps{
		Weaviate:    s.weaviateClient,
		Chat:        s.chat,
		Coordinator: s.coordinator,
		Reviews:     s.engine,
		Metrics:     s.metrics,
	})
}

// cleanup releases all resources held by the service. Called when
// Run() exits or on initialization failure. In-flight reviews are
// drained before the warm tier closes so their terminal status lands.
func (s *service) cleanup() {
	if s.engine != nil {
		s.engine.Wait()
	}

	if s.prompts != nil {
		s.prompts.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("badger close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Compile-time check that service implements Service.
var _ Service = (*service)(nil)
