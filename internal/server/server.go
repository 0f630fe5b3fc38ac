// Package server provides the HTTP prediction server over stored click
// models.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ricesearch/rice-clickmodels/internal/config"
	"github.com/ricesearch/rice-clickmodels/internal/metrics"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/middleware"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/security"
	"github.com/ricesearch/rice-clickmodels/internal/store"
)

// Server serves click predictions from stored model snapshots.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server

	store   *store.Service
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter

	// models caches rebuilt models by snapshot name.
	models *lru.Cache
	// predictions caches per-session outputs by model checksum and session.
	predictions *lru.Cache

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RateLimit is the per-client request rate. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// ModelCache is the number of rebuilt models kept in memory.
	ModelCache int

	// PredictionCache is the number of cached per-session predictions.
	// Zero disables the prediction cache.
	PredictionCache int
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8090,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ModelCache:      16,
		PredictionCache: 4096,
	}
}

// ConfigFrom builds a server config from the application settings.
func ConfigFrom(sc config.ServerConfig, version string) Config {
	cfg := DefaultConfig()
	if sc.Host != "" {
		cfg.Host = sc.Host
	}
	if sc.Port > 0 {
		cfg.Port = sc.Port
	}
	if sc.ModelCache > 0 {
		cfg.ModelCache = sc.ModelCache
	}
	if version != "" {
		cfg.Version = version
	}
	cfg.RateLimit = sc.RateLimit
	cfg.RateBurst = sc.RateBurst
	return cfg
}

// New creates a server. m may be nil, in which case a private metrics
// registry is used.
func New(cfg Config, st *store.Service, m *metrics.Metrics, log *logger.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("server requires a model store")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.ModelCache <= 0 {
		cfg.ModelCache = DefaultConfig().ModelCache
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Discard()
	}

	models, err := lru.New(cfg.ModelCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		store:   st,
		metrics: m,
		models:  models,
	}

	if cfg.PredictionCache > 0 {
		if s.predictions, err = lru.New(cfg.PredictionCache); err != nil {
			return nil, fmt.Errorf("failed to create prediction cache: %w", err)
		}
	}

	if cfg.RateLimit > 0 {
		rl := middleware.DefaultRateLimiterConfig()
		rl.RequestsPerSecond = cfg.RateLimit
		if cfg.RateBurst > 0 {
			rl.Burst = cfg.RateBurst
		}
		s.limiter = middleware.NewRateLimiter(rl)
	}

	return s, nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}
	if s.limiter != nil {
		s.limiter.Close()
	}

	s.started = false
	s.log.Info("Server stopped")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := s.setupRoutes()

	var handler http.Handler = ResponseWrapperMiddleware(mux)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = metrics.HTTPMiddleware(s.metrics, handler)
	return wrapWithLogging(handler, s.log)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /v1/models/{name}", s.handleGetModel)
	mux.HandleFunc("DELETE /v1/models/{name}", s.handleDeleteModel)
	mux.HandleFunc("POST /v1/models/{name}/predict", s.handlePredict(kindPredict))
	mux.HandleFunc("POST /v1/models/{name}/conditional", s.handlePredict(kindConditional))
	mux.HandleFunc("POST /v1/models/{name}/relevance", s.handlePredict(kindRelevance))

	return mux
}

// wrapWithLogging logs every request at debug level.
func wrapWithLogging(handler http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		handler.ServeHTTP(wrapped, r)

		log.Debug("HTTP request",
			"method", r.Method,
			"path", security.SanitizeForLog(r.URL.Path),
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Invalidate drops cached models for snapshots changed outside this
// server. Predictions are keyed by checksum and need no eviction.
func (s *Server) Invalidate(names []string) {
	for _, name := range names {
		s.models.Remove(name)
		s.store.Invalidate(name)
	}
	s.log.Info("Invalidated snapshots", "names", names)
}

// Health returns whether the server is running.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
