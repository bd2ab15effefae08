// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dialog assembles the conversational task router into a runnable
// HTTP service.
//
// The package wires together the turn pipeline (catalog, NLU, session
// manager, conversation engine, dispatcher), its storage backends, and the
// operational surround (tracing, metrics, analytics, the idle-session
// sweeper, the catalog hot-reload watcher) behind a single Service value.
// Construction is all-or-nothing: New either returns a fully initialized
// service or an error, never a half-wired one.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/analytics"
	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/conversation"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/dispatch"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/handlers"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
	"github.com/AleutianAI/AleutianDialog/services/dialog/nlu"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
	"github.com/AleutianAI/AleutianDialog/services/dialog/routes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
	badgerstore "github.com/AleutianAI/AleutianDialog/services/dialog/storage/badger"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage/memory"
	weavstore "github.com/AleutianAI/AleutianDialog/services/dialog/storage/weaviate"
	"github.com/AleutianAI/AleutianDialog/services/dialog/ttl"
)

// =============================================================================
// Backend selectors
// =============================================================================

// Store backends accepted by Config.StoreBackend.
const (
	// StoreBadger keeps sessions, turns, and the catalog in an embedded
	// BadgerDB under Config.DataDir. The default.
	StoreBadger = "badger"

	// StoreWeaviate keeps them in a Weaviate instance at
	// Config.WeaviateURL. Sessions are cached in-process.
	StoreWeaviate = "weaviate"

	// StoreMemory runs BadgerDB fully in memory. Nothing survives a
	// restart; meant for demos and tests.
	StoreMemory = "memory"
)

// NLU backends accepted by Config.NLUBackend.
const (
	// NLUKeyword matches utterances against catalog keywords in-process.
	// No remote dependency. The default.
	NLUKeyword = "keyword"

	// NLULLM classifies through an OpenAI-compatible chat endpoint.
	// Falls back to keyword matching behind a circuit breaker.
	NLULLM = "llm"

	// NLUHTTP classifies through an external model server at
	// Config.NLUEndpoint. Same keyword fallback as NLULLM.
	NLUHTTP = "http"
)

// drainTimeout bounds how long RunContext waits for in-flight requests
// after shutdown is requested.
const drainTimeout = 15 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the dialog service.
//
// # Description
//
// Service abstracts the dialog service lifecycle, enabling testing and
// alternative implementations. Only lifecycle methods are exposed; all
// behavior is reached through the HTTP surface.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run and RunContext
// block and should be called at most once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until a server error.
	// Cleanup is automatic on return.
	Run() error

	// RunContext starts the HTTP server and blocks until ctx is
	// cancelled or the server fails. On cancellation, in-flight
	// requests get drainTimeout to finish before the listener closes.
	RunContext(ctx context.Context) error

	// Router returns the underlying Gin engine for integration tests.
	// Callers must not modify it.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds dialog service configuration.
//
// # Description
//
// Config centralizes every deploy knob. Values come from environment
// variables in production (see cmd/dialogd) or are set programmatically
// in tests. All fields are optional; New applies defaults to zero values.
//
// # Examples
//
//	// Minimal: badger store under ./data/dialog, keyword NLU,
//	// built-in demo catalog.
//	cfg := Config{}
//
//	// File-backed catalog with hot reload and an LLM classifier.
//	cfg := Config{
//	    CatalogPath: "/etc/dialog/catalog.yaml",
//	    NLUBackend:  "llm",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// StoreBackend selects the persistence layer.
	// Valid values: "badger", "weaviate", "memory"
	// Default: "badger"
	StoreBackend string

	// DataDir is the BadgerDB directory (badger backend only).
	// Default: "./data/dialog"
	DataDir string

	// WeaviateURL is the Weaviate URL (weaviate backend only).
	// Example: "http://localhost:8080"
	WeaviateURL string

	// NLUBackend selects the intent classifier.
	// Valid values: "keyword", "llm", "http"
	// Default: "keyword"
	NLUBackend string

	// NLUEndpoint is the external classifier URL ("http" backend only).
	NLUEndpoint string

	// CatalogPath is an intent catalog YAML file. Empty loads the
	// catalog from the store, falling back to the built-in demo set.
	CatalogPath string

	// DisableCatalogWatch turns off hot reload of CatalogPath.
	// Watching only engages when CatalogPath is set.
	DisableCatalogWatch bool

	// DispatchURL is the downstream fulfillment base URL. Empty runs
	// the in-process demo registry.
	DispatchURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// TraceStdout pretty-prints spans to stdout instead of exporting
	// them over OTLP. Meant for development machines with no collector.
	TraceStdout bool

	// Analytics configures the InfluxDB turn recorder. An empty URL
	// disables analytics.
	Analytics analytics.Config

	// SessionIdleAfter is how long a session may sit idle before the
	// sweeper closes it. Default: 30 minutes
	SessionIdleAfter time.Duration

	// SweepInterval is the idle-session sweep cadence. Default: 1 minute
	SweepInterval time.Duration

	// DisableRateLimit turns off per-user and per-IP throttling.
	// Meant for load tests, not production.
	DisableRateLimit bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreBadger
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/dialog"
	}
	if cfg.NLUBackend == "" {
		cfg.NLUBackend = NLUKeyword
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.SessionIdleAfter == 0 {
		cfg.SessionIdleAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service owns every component of the turn pipeline plus the background
// workers around it:
//   - HTTP routing via Gin
//   - catalog manager, graph cache, and optional hot-reload watcher
//   - classifier stack (primary + keyword fallback behind a breaker)
//   - session manager over the store/cache composite
//   - conversation engine and dispatcher
//   - idle-session sweeper, analytics recorder, OTel tracer
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New
// returns; background workers coordinate through bgCancel/bgWG.
type service struct {
	config Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	router *gin.Engine

	store      storage.Store
	cache      storage.Cache
	storeReady handlers.DependencyCheck

	graphs  *depgraph.Cache
	catalog *catalog.Manager
	watcher *catalog.Watcher

	classifier nlu.Classifier
	nluBreaker *faults.Breaker

	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	engine     *conversation.Engine

	recorder  conversation.Recorder
	analytics *analytics.Recorder

	sweeper *ttl.Sweeper
	limiter *middleware.RateLimiter

	startedAt     time.Time
	tracerCleanup func(context.Context)

	// bgCancel stops the watcher and sweeper; bgWG waits for the
	// watcher goroutine on cleanup.
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a dialog Service with the given configuration.
//
// # Description
//
// New initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Opens the store backend and its cache tier
//  4. Loads and publishes the intent catalog (file, store, or built-in)
//  5. Builds the classifier stack and the dispatcher
//  6. Creates the session manager and the conversation engine
//  7. Starts the idle-session sweeper and, when file-backed, the
//     catalog watcher
//  8. Registers the HTTP routes
//
// If opts is nil, extensions.DefaultOptions() is used (no-op
// implementations). Partially populated options get the same no-ops in
// their nil fields.
//
// Optional dependencies (analytics) log a warning and stay disabled on
// failure. Required ones (store, catalog, classifier) fail construction;
// anything already started is torn down before New returns the error.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for enterprise features. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run dialog service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	svc, err := dialog.New(dialog.Config{Port: 12310}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config:    applyConfigDefaults(cfg),
		logger:    slog.Default(),
		startedAt: time.Now(),
	}

	// Apply extension options (use defaults if nil)
	if opts != nil {
		s.opts = applyOptionDefaults(*opts)
	} else {
		s.opts = extensions.DefaultOptions()
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	observability.Init()

	bg, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.initStore(bg); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := s.initCatalog(bg); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	if err := s.initNLU(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	s.initDispatch()
	s.initSessions()

	// Initialize analytics recorder (optional)
	if err := s.initAnalytics(bg); err != nil {
		s.logger.Warn("dialog.service: analytics disabled", "error", err)
		// Not fatal - continue without analytics
	}

	if err := s.initEngine(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	s.initSweeper(bg)
	s.initRouter()

	return s, nil
}

// applyOptionDefaults fills nil extension hooks with the no-op
// implementations so downstream wiring never has to nil-check.
func applyOptionDefaults(opts extensions.ServiceOptions) extensions.ServiceOptions {
	defaults := extensions.DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = defaults.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = defaults.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = defaults.AuditLogger
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = defaults.MessageFilter
	}
	if opts.DataClassifier == nil {
		opts.DataClassifier = defaults.DataClassifier
	}
	return opts
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until a server error.
func (s *service) Run() error {
	return s.RunContext(context.Background())
}

// RunContext starts the HTTP server and blocks until ctx is cancelled or
// the server fails.
//
// # Description
//
// On cancellation the listener stops accepting connections and in-flight
// requests get drainTimeout to finish. Cleanup (sweeper, watcher,
// analytics, store, tracer) runs on every exit path.
//
// # Inputs
//
//   - ctx: Cancelling it initiates graceful shutdown.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start, fails while serving,
//     or cannot drain within drainTimeout.
func (s *service) RunContext(ctx context.Context) error {
	defer s.cleanup()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dialog.service: listening",
			"port", s.config.Port,
			"store", s.config.StoreBackend,
			"nlu", s.config.NLUBackend)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("dialog.service: draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// Router returns the underlying Gin engine for integration tests.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to the configured collector. The gRPC
// connection is lazy, so an unreachable collector does not block startup;
// spans are dropped until it appears. With TraceStdout set, spans are
// pretty-printed to stdout instead.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var traceExporter sdktrace.SpanExporter
	if s.config.TraceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		traceExporter = exporter
	} else {
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		traceExporter = exporter
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("dialog-service")))
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
			s.logger.Error("dialog.service: OTLP exporter shutdown failed", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the persistence backend and its cache tier.
//
// # Description
//
// The badger backends pair the store with its own TTL cache view, so hot
// sessions survive a restart alongside the records. The weaviate backend
// has no local disk and uses the in-process LRU cache instead.
//
// Also selects the /health dependency probe for the chosen backend.
func (s *service) initStore(ctx context.Context) error {
	switch s.config.StoreBackend {
	case StoreBadger:
		cfg := badgerstore.DefaultConfig()
		cfg.Path = s.config.DataDir
		cfg.Logger = s.logger
		store, err := badgerstore.Open(cfg)
		if err != nil {
			return err
		}
		s.store = store
		s.cache = store.Cache(s.config.SessionIdleAfter)
		s.storeReady = s.probeByLookup()

	case StoreMemory:
		store, err := badgerstore.Open(badgerstore.InMemoryConfig())
		if err != nil {
			return err
		}
		s.store = store
		s.cache = store.Cache(s.config.SessionIdleAfter)
		s.storeReady = s.probeByLookup()

	case StoreWeaviate:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := weavstore.New(connectCtx, weavstore.Config{
			URL:    s.config.WeaviateURL,
			Logger: s.logger,
		})
		if err != nil {
			return err
		}
		cacheCfg := memory.DefaultConfig()
		if s.config.SessionIdleAfter > 0 {
			cacheCfg.DefaultTTL = s.config.SessionIdleAfter
		}
		s.store = store
		s.cache = memory.New(cacheCfg)
		s.storeReady = store.Ready

	default:
		return faults.Newf(faults.CodeConfiguration,
			"unknown store backend %q", s.config.StoreBackend)
	}

	s.logger.Info("dialog.service: store ready", "backend", s.config.StoreBackend)
	return nil
}

// probeByLookup health-checks the store by looking up an intent that
// cannot exist. A clean not-found means the store answered.
func (s *service) probeByLookup() handlers.DependencyCheck {
	return func(ctx context.Context) error {
		_, err := s.store.LoadIntent(ctx, "__health_probe__")
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
}

// initCatalog loads the intent catalog and publishes the first snapshot.
//
// # Description
//
// Resolution order: CatalogPath when set, then whatever the store holds,
// then the built-in demo catalog. A file-backed catalog is snapshotted
// into the store (when the store can hold one) so a later file-less
// restart serves the same intents, and gets a hot-reload watcher unless
// disabled.
func (s *service) initCatalog(ctx context.Context) error {
	s.graphs = depgraph.NewCache(0)
	s.catalog = catalog.NewManager(s.graphs, s.logger)

	intents, source, err := s.loadIntents(ctx)
	if err != nil {
		return err
	}
	if _, err := s.catalog.Replace(intents, source); err != nil {
		return err
	}
	s.logger.Info("dialog.service: catalog published",
		"source", source, "intents", len(intents))

	if s.config.CatalogPath == "" {
		return nil
	}

	if writer, ok := s.store.(storage.CatalogWriter); ok {
		saveCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := writer.SaveCatalog(saveCtx, intents); err != nil {
			s.logger.Warn("dialog.service: catalog snapshot not saved", "error", err)
			// Not fatal - the file remains the source of truth
		}
	}

	if !s.config.DisableCatalogWatch {
		s.watcher = catalog.NewWatcher(s.config.CatalogPath, s.catalog, s.logger)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("dialog.service: catalog watcher exited", "error", err)
			}
		}()
	}

	return nil
}

// loadIntents resolves the bootstrap catalog and names its source the way
// the admin reload endpoint does, so reload audit entries line up.
func (s *service) loadIntents(ctx context.Context) ([]datatypes.Intent, string, error) {
	if s.config.CatalogPath != "" {
		intents, err := catalog.LoadFile(s.config.CatalogPath)
		if err != nil {
			return nil, "", err
		}
		return intents, "file:" + s.config.CatalogPath, nil
	}

	intents, err := s.store.ReloadCatalog(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(intents) > 0 {
		return intents, "store", nil
	}
	return catalog.Default(), "builtin", nil
}

// initNLU builds the classifier stack.
//
// # Description
//
// Remote backends (llm, http) are wrapped in a breaker-guarded composite
// that falls back to keyword matching, so an NLU outage degrades
// classification quality instead of failing turns. The keyword backend
// has no remote dependency and runs bare.
func (s *service) initNLU() error {
	var primary nlu.Classifier

	switch s.config.NLUBackend {
	case NLUKeyword:
		s.classifier = nlu.NewKeywordClassifier()
		s.logger.Info("dialog.service: using keyword classifier")
		return nil
	case NLULLM:
		classifier, err := nlu.NewLLMClassifierFromEnv()
		if err != nil {
			return err
		}
		primary = classifier
		s.logger.Info("dialog.service: using LLM classifier")
	case NLUHTTP:
		if s.config.NLUEndpoint == "" {
			return faults.New(faults.CodeConfiguration,
				"nlu backend \"http\" requires an endpoint")
		}
		primary = nlu.NewHTTPClassifier(s.config.NLUEndpoint)
		s.logger.Info("dialog.service: using HTTP classifier",
			"endpoint", s.config.NLUEndpoint)
	default:
		s.logger.Warn("dialog.service: unknown NLU backend, using keyword",
			"backend", s.config.NLUBackend)
		s.classifier = nlu.NewKeywordClassifier()
		return nil
	}

	s.nluBreaker = faults.NewBreaker("nlu", faults.DefaultBreakerConfig())
	watchBreaker(s.nluBreaker)
	s.classifier = nlu.NewResilient(primary, nlu.NewKeywordClassifier(), s.nluBreaker, s.logger)
	return nil
}

// watchBreaker feeds breaker state transitions into the metrics gauges.
func watchBreaker(b *faults.Breaker) {
	b.OnStateChange(func(name string, _, to faults.BreakerState) {
		observability.Default.RecordBreaker(name, to.String(), float64(to))
	})
}

// initDispatch builds the fulfillment dispatcher: the in-process demo
// registry by default, an HTTP executor when DispatchURL is set. Either
// way calls run behind the dispatcher's circuit breaker.
func (s *service) initDispatch() {
	breaker := faults.NewBreaker("dispatch", faults.DefaultBreakerConfig())
	watchBreaker(breaker)

	if s.config.DispatchURL != "" {
		executor := dispatch.NewHTTPExecutor(s.config.DispatchURL, nil)
		s.dispatcher = dispatch.New(executor, breaker, s.logger)
		s.logger.Info("dialog.service: dispatching over HTTP",
			"base_url", s.config.DispatchURL)
		return
	}

	s.dispatcher = dispatch.New(dispatch.DemoRegistry(), breaker, s.logger)
	s.logger.Info("dialog.service: dispatching to demo registry")
}

// initSessions creates the session manager over the store/cache pair.
func (s *service) initSessions() {
	cfg := session.DefaultConfig()
	if s.config.SessionIdleAfter > 0 {
		cfg.CacheTTL = s.config.SessionIdleAfter
	}
	s.sessions = session.NewManager(s.store, s.cache, cfg, s.logger)
}

// initAnalytics connects the InfluxDB turn recorder when configured.
// The recorder always starts as a Nop so the engine never nil-checks.
func (s *service) initAnalytics(ctx context.Context) error {
	s.recorder = analytics.Nop{}
	if s.config.Analytics.URL == "" {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	recorder, err := analytics.New(connectCtx, s.config.Analytics, s.logger)
	if err != nil {
		return err
	}
	s.analytics = recorder
	s.recorder = recorder
	return nil
}

// initEngine wires the conversation engine, the heart of the turn
// pipeline. Unset pipeline stages (resolver, inheritance, questions,
// follow-ups) default inside conversation.New.
func (s *service) initEngine() error {
	engine, err := conversation.New(conversation.Deps{
		Catalog:    s.catalog,
		Classifier: s.classifier,
		Sessions:   s.sessions,
		Store:      s.store,
		Graphs:     s.graphs,
		Dispatcher: s.dispatcher,
		Profiles:   conversation.NewCacheProfiles(s.cache, s.logger),
		Recorder:   s.recorder,
		Logger:     s.logger,
	})
	if err != nil {
		return err
	}
	s.engine = engine
	return nil
}

// initSweeper starts the background idle-session sweeper.
func (s *service) initSweeper(ctx context.Context) {
	s.sweeper = ttl.NewSweeper(s.sessions, ttl.SweeperConfig{
		Interval:  s.config.SweepInterval,
		IdleAfter: s.config.SessionIdleAfter,
	}, s.logger)

	if err := s.sweeper.Start(ctx); err != nil {
		s.logger.Warn("dialog.service: session sweeper not started", "error", err)
		// Not fatal - sessions still expire on access
	}
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies tracing middleware, and registers the
// full route surface. ServiceOptions are passed through so enterprise
// builds can swap auth, audit, and filtering without touching routing.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("dialog-service"))

	if !s.config.DisableRateLimit {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{})
	}

	breakers := []*faults.Breaker{s.dispatcher.Breaker()}
	if s.nluBreaker != nil {
		breakers = append(breakers, s.nluBreaker)
	}

	checks := map[string]handlers.DependencyCheck{
		"store": s.storeReady,
	}
	if s.analytics != nil {
		checks["influxdb"] = s.analytics.Ready
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Chat: handlers.ChatDeps{
			Engine:     s.engine,
			Filter:     s.opts.MessageFilter,
			Classifier: s.opts.DataClassifier,
			Auditor:    s.opts.AuditLogger,
			Logger:     s.logger,
		},
		Admin: handlers.AdminDeps{
			Catalog:     s.catalog,
			Store:       s.store,
			Graphs:      s.graphs,
			CatalogPath: s.config.CatalogPath,
			Authz:       s.opts.AuthzProvider,
			Auditor:     s.opts.AuditLogger,
			Logger:      s.logger,
		},
		Health: handlers.HealthDeps{
			StartedAt: s.startedAt,
			Checks:    checks,
			Breakers:  breakers,
			Sessions:  s.sessions,
			Catalog:   s.catalog,
			Graphs:    s.graphs,
			Logger:    s.logger,
		},
		Sessions:  s.sessions,
		Auth:      s.opts.AuthProvider,
		Auditor:   s.opts.AuditLogger,
		RateLimit: s.limiter,
		Logger:    s.logger,
	})
}

// =============================================================================
// Cleanup
// =============================================================================

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run exits or on initialization failure. Stops background
// workers first so nothing writes through a closing store, then flushes
// analytics, closes the store, and shuts the tracer down.
func (s *service) cleanup() {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.bgWG.Wait()

	if s.sweeper != nil {
		_ = s.sweeper.Stop()
	}

	if s.analytics != nil {
		s.analytics.Close()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("dialog.service: store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
