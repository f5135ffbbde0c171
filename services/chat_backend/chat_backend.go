// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat_backend provides the core chat service for AleutianChat.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, LLM clients, conversation storage, generation
// profiles, policy engine, and observability infrastructure.
//
// # Enterprise Integration
//
// The service supports dependency injection via extensions.ServiceOptions,
// enabling AleutianEnterprise to provide custom implementations of:
//   - AuthProvider: Custom authentication (JWT, API keys)
//   - AuthzProvider: Role-based access control
//   - AuditLogger: Compliance audit logging
//   - MessageFilter: PII detection and redaction
//   - DataClassifier: Content sensitivity labeling
//   - RequestAuditor: Tamper-evident request capture
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := chat_backend.Config{Port: 12220}
//	svc, err := chat_backend.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
//
// Enterprise (with custom implementations):
//
//	opts := &extensions.ServiceOptions{
//	    AuthProvider:  enterpriseAuth,
//	    AuditLogger:   enterpriseAudit,
//	}
//	svc, err := chat_backend.New(cfg, opts)
//
// # Import Path
//
// Enterprise imports this package as:
//
//	import "github.com/AleutianAI/AleutianChat/services/chat_backend"
package chat_backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/observability"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/profiles"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/routes"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/store"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/policy_engine"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the chat backend service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and
// alternative implementations. The interface follows the minimal surface
// area principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Limitations
//
//   - Run() blocks until server error
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Description
	//
	// Starts the Gin HTTP server on the configured port. This method
	// blocks until the server stops (due to error or shutdown signal).
	// All held resources are released when it returns.
	//
	// # Inputs
	//
	// None (configuration provided at construction time).
	//
	// # Outputs
	//
	//   - error: Non-nil if server fails to start or encounters fatal error
	//
	// # Examples
	//
	//   if err := svc.Run(); err != nil {
	//       log.Fatalf("server error: %v", err)
	//   }
	//
	// # Limitations
	//
	//   - Blocks until server stops
	//
	// # Assumptions
	//
	//   - Service was successfully created via New()
	//   - Port is available and not in use
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Description
	//
	// Provides access to the configured Gin router, primarily for
	// integration testing where direct HTTP calls are needed.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds chat backend configuration options.
//
// # Description
//
// Config centralizes all configuration for the chat backend service.
// Values can be populated from environment variables, config files,
// or programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults.
//
// # Optional Fields
//
// All fields are optional with defaults applied by New().
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port and LLM backend
//	cfg := Config{
//	    Port:       8080,
//	    LLMBackend: "claude",
//	}
//
//	// Full configuration
//	cfg := Config{
//	    Port:         12220,
//	    LLMBackend:   "ollama",
//	    WeaviateURL:  "http://localhost:8080",
//	    StorePath:    "/var/lib/aleutian/chat",
//	    OTelEndpoint: "localhost:4317",
//	    ProfilePath:  "/etc/aleutian/profiles.yaml",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12220
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "local", "openai", "ollama", "claude", "anthropic"
	// Default: "local"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL.
	// If empty, conversations persist to the embedded Badger store instead.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// StorePath is the directory for the embedded Badger store.
	// Only used when WeaviateURL is empty. An empty path keeps records
	// in memory, which loses them on restart.
	StorePath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// ProfilePath is an optional YAML file overriding the embedded
	// generation profiles. The file is watched and hot reloaded on change.
	ProfilePath string

	// TelemetryEnabled turns on per-exchange usage recording to InfluxDB.
	// Default: false
	TelemetryEnabled bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - LLM client management
//   - Conversation persistence (Weaviate or embedded Badger)
//   - Generation profile registry with hot reload
//   - Policy engine for data classification
//   - OpenTelemetry tracing
//   - Prometheus metrics
//   - InfluxDB usage telemetry
//
// # Fields
//
//   - config: Service configuration
//   - opts: Extension options for enterprise features
//   - router: Gin HTTP engine
//   - conversations: Account, chat, and message persistence
//   - llmClient: LLM provider client
//   - policyEngine: Data classification engine
//   - registry: Generation profile registry
//   - usage: Usage telemetry recorder (may be nil)
//   - modelManager: Ollama model warm-up manager (may be nil)
//   - tracerCleanup: Function to shutdown tracer on exit
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New() returns.
//
// # Limitations
//
//   - No hot-reload of configuration (profiles hot reload separately)
//   - Single LLM backend per instance
//
// # Assumptions
//
//   - All external services (LLM, Weaviate, OTel) are reachable if configured
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	conversations store.ConversationStore
	llmClient     llm.LLMClient
	policyEngine  *policy_engine.PolicyEngine
	registry      *profiles.Registry
	usage         *observability.UsageRecorder
	modelManager  *llm.ModelManager
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new chat backend Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the conversation store (Weaviate or embedded Badger)
//  5. Initializes policy engine
//  6. Creates LLM client based on backend type
//  7. Loads generation profiles and optional overrides
//  8. Warms Ollama models named by profiles
//  9. Sets up HTTP routes with extension options
//
// If opts is nil, DefaultOptions() is used (no-op implementations).
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for enterprise features. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run chat backend service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	// Open source usage (no-op extensions)
//	cfg := Config{Port: 12220, LLMBackend: "ollama"}
//	svc, err := New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
//	// Enterprise usage (custom extensions)
//	opts := &extensions.ServiceOptions{
//	    AuthProvider: myAuthProvider,
//	    AuditLogger:  myAuditLogger,
//	}
//	svc, err := New(cfg, opts)
//
// # Limitations
//
//   - LLM client creation may fail if provider is unreachable
//   - Weaviate connection is optional; Badger is the fallback
//
// # Assumptions
//
//   - Environment variables are set for LLM providers (API keys, URLs)
//   - Network is available for external service connections
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Apply extension options (use defaults if nil)
	if opts != nil {
		s.opts = *opts
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
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	// Open the conversation store
	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	// Initialize policy engine
	s.policyEngine, err = policy_engine.NewPolicyEngine()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize LLM client
	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Load generation profiles
	if err := s.initProfiles(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load generation profiles: %w", err)
	}

	// Warm Ollama models (optional)
	if err := s.initModelWarmup(); err != nil {
		slog.Warn("Model warm-up failed, models load on first request",
			"error", err)
		// Not fatal - Ollama loads models lazily
	}

	// Initialize usage telemetry (optional)
	if s.config.TelemetryEnabled {
		s.usage = observability.NewUsageRecorderFromEnv()
		slog.Info("Usage telemetry enabled")
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the Gin HTTP server on the configured port. This method
// blocks until the server stops due to error or shutdown signal.
//
// # Inputs
//
// None.
//
// # Outputs
//
//   - error: Non-nil if server fails to start or encounters fatal error
//
// # Examples
//
//	if err := svc.Run(); err != nil {
//	    log.Fatalf("server error: %v", err)
//	}
//
// # Limitations
//
//   - Blocks until server stops
//   - Cleanup is automatic on return
//
// # Assumptions
//
//   - Service was successfully created via New()
//   - Port is available
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting chat backend server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
//
// # Description
//
// Provides access to the configured Gin router for integration testing.
//
// # Outputs
//
//   - *gin.Engine: The configured router
//
// # Limitations
//
//   - Should not be used to modify routes after construction
//
// # Assumptions
//
//   - Caller will not modify the router
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
//
// # Description
//
// Applies sensible defaults for any zero-valued configuration fields.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12220
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "local"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	// EnableMetrics defaults to true (zero value is false, so we need explicit check)
	// We'll handle this by always enabling unless explicitly disabled via a setter
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
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
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-backend-service")))
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

// initStore opens the conversation store.
//
// # Description
//
// Connects to Weaviate when a URL is configured, validating the URL and
// ensuring the schema exists. Any Weaviate problem falls back to the
// embedded Badger store so the service still comes up in lightweight mode.
//
// # Outputs
//
//   - error: Non-nil only if the Badger fallback also fails
//
// # Limitations
//
//   - The fallback decision is made once at startup
//
// # Assumptions
//
//   - StorePath is writable when set
func (s *service) initStore() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL != "" && strings.Contains(weaviateURL, "http") {
		parsedURL, err := url.Parse(weaviateURL)
		if err == nil && parsedURL.Scheme != "" && parsedURL.Host != "" {
			clientConf := weaviate.Config{
				Host:   parsedURL.Host,
				Scheme: parsedURL.Scheme,
			}

			client, err := weaviate.NewClient(clientConf)
			if err == nil {
				datatypes.EnsureWeaviateSchema(client)
				s.conversations = store.NewWeaviateStore(client)
				slog.Info("Conversation store backed by Weaviate", "url", weaviateURL)
				return nil
			}
			slog.Warn("Failed to create Weaviate client, falling back to Badger",
				"error", err)
		} else {
			slog.Warn("Invalid Weaviate URL, falling back to Badger",
				"url", weaviateURL)
		}
	} else {
		slog.Info("Weaviate URL not configured, running in lightweight mode")
	}

	badger, err := store.NewBadgerStore(s.config.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open Badger store: %w", err)
	}
	s.conversations = badger

	if s.config.StorePath == "" {
		slog.Warn("Conversation store is in-memory, records are lost on restart")
	} else {
		slog.Info("Conversation store backed by Badger", "path", s.config.StorePath)
	}
	return nil
}

// initLLMClient initializes the LLM provider client.
//
// # Description
//
// Creates the appropriate LLM client based on the configured backend type.
//
// # Outputs
//
//   - error: Non-nil if LLM client creation fails
//
// # Limitations
//
//   - Only supports: local, openai, ollama, claude/anthropic
//
// # Assumptions
//
//   - Required environment variables are set for the chosen provider
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "local":
		s.llmClient, err = llm.NewLocalLlamaCppClient()
		slog.Info("Using Local Llama.cpp LLM backend")
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "claude", "anthropic":
		s.llmClient, err = llm.NewAnthropicClient()
		slog.Info("Using Anthropic (Claude) LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to local", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewLocalLlamaCppClient()
	}

	return err
}

// initProfiles loads the generation profile registry.
//
// # Description
//
// Builds the registry from the embedded profile set, merges the optional
// override file on top, and starts the file watcher for hot reload.
// Override problems are logged but not fatal; the embedded set stands.
//
// # Outputs
//
//   - error: Non-nil if the embedded profile set is unusable
func (s *service) initProfiles() error {
	registry, err := profiles.NewRegistry()
	if err != nil {
		return err
	}
	s.registry = registry

	if s.config.ProfilePath == "" {
		return nil
	}

	if err := registry.LoadFile(s.config.ProfilePath); err != nil {
		slog.Warn("Profile override file unusable, using embedded profiles",
			"path", s.config.ProfilePath,
			"error", err)
		return nil
	}
	if err := registry.Watch(); err != nil {
		slog.Warn("Profile hot reload unavailable",
			"path", s.config.ProfilePath,
			"error", err)
	}

	return nil
}

// initModelWarmup pre-loads Ollama models named by the profile registry.
//
// # Description
//
// Warms each distinct model with keep_alive=-1 so chats that alternate
// between profiles do not thrash the server. Only runs for the ollama
// backend; other providers manage their own model residency.
//
// # Outputs
//
//   - error: Non-nil if any model fails to load
//
// # Limitations
//
//   - Requires OLLAMA_BASE_URL to be set
//
// # Assumptions
//
//   - The Ollama server has VRAM for every profiled model
func (s *service) initModelWarmup() error {
	if s.config.LLMBackend != "ollama" {
		return nil
	}

	baseURL := strings.TrimSuffix(os.Getenv("OLLAMA_BASE_URL"), "/")
	if baseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}

	models := s.registry.Models()
	if len(models) == 0 {
		return nil
	}

	configs := make([]llm.ModelWarmupConfig, 0, len(models))
	for _, model := range models {
		configs = append(configs, llm.ModelWarmupConfig{
			Model:     model,
			KeepAlive: "-1",
		})
	}

	s.modelManager = llm.NewModelManager(baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return s.modelManager.WarmModels(ctx, configs)
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies middleware, and registers all routes.
// ServiceOptions are passed through to enable enterprise extensions.
//
// # Limitations
//
//   - Routes are fixed after initialization
//
// # Assumptions
//
//   - All dependencies (store, LLM, profiles, policy engine) are initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("chat-backend-service"))

	routes.SetupRoutes(s.router, s.conversations, s.llmClient, s.registry,
		s.policyEngine, s.usage, s.config.LLMBackend, s.opts)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure.
// Unloads warmed models, stops the profile watcher, closes the usage
// recorder and conversation store, and shuts down the tracer.
func (s *service) cleanup() {
	// Unload warmed models so VRAM frees promptly
	if s.modelManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, model := range s.modelManager.GetLoadedModels() {
			if err := s.modelManager.UnloadModel(ctx, model.Name); err != nil {
				slog.Warn("Model unload error", "model", model.Name, "error", err)
			}
		}
		cancel()
	}

	// Stop the profile watcher
	if s.registry != nil {
		s.registry.Close()
	}

	// Flush usage telemetry (nil-safe)
	s.usage.Close()

	// Close the conversation store
	if s.conversations != nil {
		if err := s.conversations.Close(); err != nil {
			slog.Warn("Store close error", "error", err)
		}
	}

	// Shutdown tracer
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
