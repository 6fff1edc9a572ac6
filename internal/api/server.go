package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)     // CORS for browser clients
	router.Use(RecoverMiddleware)  // Recover from panics
	router.Use(TracingMiddleware)  // OpenTelemetry tracing
	router.Use(LoggingMiddleware)  // Request logging
	router.Use(metrics.Middleware) // Prometheus request metrics
	router.Use(middleware.RealIP)  // Extract real IP

	// Health and metrics
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// Event streams are long-lived and must not be buffered by compression.
	router.Get("/stream", handler.Stream)
	router.Get("/ws", handler.WebSocket)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5)) // Gzip compression

		// Scoring
		r.Post("/score", handler.Score)

		// Transactions
		r.Get("/transactions", handler.ListTransactions)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Get("/transactions/{id}/explanation", handler.GetExplanation)
		r.Post("/transactions/{id}/block", handler.BlockTransaction)

		// Administration
		r.Post("/admin/clear", handler.ClearTransactions)
		r.Post("/admin/analytics/refresh", handler.RefreshAnalytics)

		// Identity
		r.Get("/reputation/{token}", handler.GetReputation)
		r.Post("/heartbeat", handler.Heartbeat)
		r.Get("/users/{identifier}", handler.GetProfile)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
