package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/handler"
	"github.com/datatap/datatap/internal/jobs"
	"github.com/datatap/datatap/internal/server/middleware"
	"github.com/datatap/datatap/internal/source"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	AuthRateLimit   int   // requests per minute per IP on register/login
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     10 * 1024 * 1024, // 10MB
		AuthRateLimit:   10,
	}
}

// Deps are the components the server routes to and shuts down.
// Recorder, Sweeper and Sources may be nil.
type Deps struct {
	Store    *config.Store
	Gateway  *gateway.Gateway
	Recorder *gateway.Recorder
	Sweeper  *jobs.KeyExpirySweeper
	Sources  *source.Registry
	Services handler.Services
}

// Server is the top-level HTTP server. It owns the chi router and the
// background workers that live as long as it does.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", gateway.HeaderAPIKey, "X-Requested-With"},
		ExposedHeaders:   []string{middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Metrics)
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Probes and documents (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.deps.Store, s.deps.Gateway.Prefix(), s.logger).ServeSpec)

	// --- Management API ---
	sys := handler.NewSystemHandler(s.deps.Services, s.deps.Store, s.logger)
	r.Route("/api/system", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.AuthRateLimit))
			r.Post("/auth/register", sys.Register)
			r.Post("/auth/login", sys.Login)
		})
		r.Get("/auth/oidc/login", sys.OIDCLogin)
		r.Get("/auth/oidc/callback", sys.OIDCCallback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Services.Auth))

			r.Get("/auth/me", sys.Me)
			r.Post("/auth/first-admin", sys.FirstAdmin)

			// Developers browse endpoints and the keys shared with them.
			r.Get("/endpoints", sys.ListEndpoints)
			r.Get("/endpoints/{id}", sys.GetEndpoint)
			r.Get("/keys", sys.ListAPIKeys)
			r.Get("/keys/{id}", sys.GetAPIKey)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/datasets", sys.ListDatasets)
				r.Post("/datasets", sys.CreateDataset)
				r.Post("/datasets/upload", sys.UploadDataset)
				r.Post("/datasets/import", sys.ImportDataset)
				r.Get("/datasets/{id}", sys.GetDataset)
				r.Put("/datasets/{id}", sys.UpdateDataset)
				r.Delete("/datasets/{id}", sys.DeleteDataset)
				r.Get("/datasets/{id}/records", sys.GetDatasetRecords)
				r.Patch("/datasets/{id}/active", sys.SetDatasetActive)
				r.Post("/datasets/{id}/refresh", sys.RefreshDataset)
				r.Get("/datasets/{id}/schema-history", sys.DatasetSchemaHistory)
				r.Get("/datasets/{id}/original", sys.DatasetOriginal)

				r.Post("/endpoints", sys.CreateEndpoint)
				r.Put("/endpoints/{id}", sys.UpdateEndpoint)
				r.Delete("/endpoints/{id}", sys.DeleteEndpoint)
				r.Patch("/endpoints/{id}/active", sys.SetEndpointActive)

				r.Post("/keys", sys.CreateAPIKey)
				r.Put("/keys/{id}", sys.UpdateAPIKey)
				r.Delete("/keys/{id}", sys.DeleteAPIKey)
				r.Patch("/keys/{id}/status", sys.ToggleAPIKey)
				r.Post("/keys/{id}/regenerate", sys.RegenerateAPIKey)

				r.Get("/logs", sys.ListLogs)
				r.Delete("/logs", sys.ClearLogs)
				r.Get("/dashboard", sys.Dashboard)

				r.Get("/users", sys.ListUsers)
				r.Patch("/users/{id}/role", sys.SetUserRole)
				r.Patch("/users/{id}/active", sys.SetUserActive)

				r.Get("/sources", sys.ListSources)
				r.Post("/sources", sys.CreateSource)
				r.Delete("/sources/{id}", sys.DeleteSource)
				r.Post("/sources/{id}/test", sys.TestSource)
			})
		})
	})

	// --- Generated endpoints ---
	prefix := strings.TrimSuffix(s.deps.Gateway.Prefix(), "/")
	r.Handle(prefix+"/*", handler.NewGatewayHandler(s.deps.Gateway))

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the config store
// answers a ping, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the background workers and the HTTP server, and
// blocks until a SIGINT or SIGTERM is received. It then drains in-flight
// requests, flushes queued usage events and closes source connections.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.deps.Recorder != nil {
		s.deps.Recorder.Start()
	}
	if s.deps.Sweeper != nil {
		s.deps.Sweeper.Start(ctx)
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "gateway_prefix", s.deps.Gateway.Prefix())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	var listenErr error
	select {
	case err := <-errCh:
		listenErr = fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if listenErr == nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			listenErr = fmt.Errorf("server shutdown: %w", err)
		}
	}
	s.shutdownWorkers(shutdownCtx)
	if listenErr != nil {
		return listenErr
	}
	s.logger.Info("server stopped")
	return nil
}

// shutdownWorkers stops the background workers in dependency order: no new
// requests arrive by now, so the recorder can drain its queue.
func (s *Server) shutdownWorkers(ctx context.Context) {
	if s.deps.Sweeper != nil {
		s.deps.Sweeper.Stop()
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.Close(ctx); err != nil {
			s.logger.Warn("usage recorder did not drain", "error", err)
		}
	}
	if s.deps.Sources != nil {
		s.deps.Sources.CloseAll()
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
