// Package server provides the HTTP and gRPC servers for the placement service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/metrics"
	"github.com/limiquantix/placement/internal/notify"
	"github.com/limiquantix/placement/internal/placement"
	"github.com/limiquantix/placement/internal/repository/etcd"
	"github.com/limiquantix/placement/internal/repository/memory"
	"github.com/limiquantix/placement/internal/repository/postgres"
	"github.com/limiquantix/placement/internal/repository/redis"
	"github.com/limiquantix/placement/internal/repository/sqlite"
)

// Version is reported by /api/v1/info. Overridden at build time.
var Version = "0.1.0"

const seedLockKey = "placement-seed"

// Server represents the placement service.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	grpcServer   *grpc.Server
	healthServer *health.Server

	// Infrastructure
	db        *postgres.DB
	sqliteDB  *sqlite.DB
	publisher *redis.Publisher
	etcd      *etcd.Client

	// Storage (abstracted for swappable backends)
	registry placement.HostRegistry
	ledger   placement.Ledger

	// Services
	metrics *metrics.Collector
	bus     *notify.Bus
	engine  *placement.Engine
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL stores hosts and allocations in PostgreSQL.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithSQLite stores hosts and allocations in an embedded SQLite database.
func WithSQLite(db *sqlite.DB) ServerOption {
	return func(s *Server) {
		s.sqliteDB = db
	}
}

// WithRedis forwards allocation events to Redis pub/sub.
func WithRedis(publisher *redis.Publisher) ServerOption {
	return func(s *Server) {
		s.publisher = publisher
	}
}

// WithEtcd shares the round-robin cursor and the seed lock through etcd.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config: cfg,
		logger: logger,
		mux:    mux,
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	// Initialize repositories
	s.initRepositories()

	// Initialize services
	s.initServices()

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	s.initGRPC()

	return s
}

// initRepositories initializes data repositories.
func (s *Server) initRepositories() {
	switch {
	case s.db != nil:
		s.logger.Info("Initializing PostgreSQL repositories")
		s.registry = postgres.NewHostRepository(s.db, s.logger)
		s.ledger = postgres.NewAllocationRepository(s.db, s.logger)
	case s.sqliteDB != nil:
		s.logger.Info("Initializing SQLite repositories")
		s.registry = sqlite.NewHostRepository(s.sqliteDB, s.logger)
		s.ledger = sqlite.NewAllocationRepository(s.sqliteDB, s.logger)
	default:
		// Development mode, state is lost on restart
		s.logger.Info("Initializing in-memory repositories")
		s.registry = memory.NewHostRegistry()
		s.ledger = memory.NewAllocationLedger()
	}

	if s.etcd != nil {
		s.ledger = placement.WithCursor(s.ledger, s.etcd.NewCursor(s.config.Etcd.CursorKey))
		s.logger.Info("Using shared round-robin cursor", zap.String("key", s.config.Etcd.CursorKey))
	}

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("sqlite", s.sqliteDB != nil),
		zap.Bool("redis", s.publisher != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

// initServices initializes the notification bus and the allocation engine.
func (s *Server) initServices() {
	s.logger.Info("Initializing services")

	s.metrics = metrics.NewCollector()
	s.bus = notify.NewBus(s.config.Notify, s.logger, notify.WithDropHandler(s.metrics.NotificationDropped))

	if url := s.config.Notify.WebhookURL; url != "" {
		s.subscribe("webhook", notify.NewWebhookSubscriber(url, s.logger))
	}
	if s.publisher != nil {
		s.subscribe("redis", s.publisher)
	}

	s.engine = placement.NewEngine(
		s.registry,
		s.ledger,
		s.bus,
		s.config.Placement.Engine(),
		s.logger,
		placement.WithRecorder(s.metrics),
	)

	s.logger.Info("Services initialized",
		zap.String("default_policy", s.config.Placement.DefaultPolicy),
		zap.Int("notify_queue_size", s.config.Notify.QueueSize),
	)
}

// subscribe adds a long-lived sink. Sinks stay subscribed across failed
// deliveries; only the affected events are lost.
func (s *Server) subscribe(name string, subscriber notify.Subscriber) {
	if _, err := s.bus.Subscribe(name, subscriber, notify.Persistent()); err != nil {
		s.logger.Warn("Failed to add subscriber", zap.String("subscriber", name), zap.Error(err))
	}
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	// API info
	s.mux.HandleFunc("/api/v1/info", s.infoHandler)

	NewHostHandler(s.registry, s.logger).RegisterRoutes(s.mux)
	NewAllocationHandler(s.engine, s.ledger, s.logger).RegisterRoutes(s.mux)
	NewEventsHandler(s.bus, s.logger).RegisterRoutes(s.mux)

	if s.config.Metrics.Enabled {
		s.mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	// Apply middleware
	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Engine returns the allocation engine.
func (s *Server) Engine() *placement.Engine {
	return s.engine
}

// Bus returns the notification bus.
func (s *Server) Bus() *notify.Bus {
	return s.bus
}

// SeedHosts registers the configured seed hosts that are not yet known.
// With etcd, replicas seed one at a time under a distributed lock.
func (s *Server) SeedHosts(ctx context.Context) error {
	hosts := s.config.Placement.Hosts()
	if len(hosts) == 0 {
		return nil
	}

	seed := func(ctx context.Context) error {
		added, err := placement.Seed(ctx, s.registry, hosts)
		if err != nil {
			return err
		}
		s.logger.Info("Seeded hosts", zap.Int("configured", len(hosts)), zap.Int("added", added))
		return nil
	}

	if s.etcd != nil {
		return s.etcd.WithLock(ctx, seedLockKey, 30*time.Second, seed)
	}
	return seed(ctx)
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"placement"}`)
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			s.logger.Warn("Readiness check failed", zap.String("component", name), zap.Error(err))
		} else {
			details[name] = "healthy"
		}
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.sqliteDB != nil {
		check("sqlite", s.sqliteDB.Health)
	}
	if s.publisher != nil {
		check("redis", s.publisher.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, s.logger, status, map[string]interface{}{
		"ready":      ready,
		"components": details,
	})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"alive":true}`)
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"name":           "placement",
		"version":        Version,
		"api_version":    "v1",
		"description":    "VM placement service",
		"default_policy": s.config.Placement.DefaultPolicy,
		"policies": []string{
			placement.PolicyRoundRobin,
			placement.PolicyLeastConnections,
			placement.PolicyWeighted,
		},
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"sqlite":   s.sqliteDB != nil,
			"redis":    s.publisher != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// Run starts the HTTP and gRPC servers and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
		zap.String("grpc_address", s.config.Server.GRPCAddress()),
	)

	errCh := make(chan error, 2)

	if addr := s.config.Server.GRPCAddress(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.serveGRPC(lis, errCh)
	}

	// Start server in goroutine
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		s.Shutdown()
		return err
	}

	// Graceful shutdown
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	s.stopGRPC()

	// Close HTTP server
	var shutdownErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("HTTP shutdown error: %w", err)
	}

	// Stop notification delivery before closing the sinks
	s.bus.Close()

	// Close infrastructure connections
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.sqliteDB != nil {
		if err := s.sqliteDB.Close(); err != nil {
			s.logger.Warn("Failed to close SQLite", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}
