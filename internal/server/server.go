package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keymeterhq/keymeter/internal/handler"
	"github.com/keymeterhq/keymeter/internal/openapi"
	"github.com/keymeterhq/keymeter/internal/server/middleware"
	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	JWTExpiry       time.Duration
	LoginRateLimit  int // requests per minute per IP on the login route
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		JWTExpiry:       24 * time.Hour,
		LoginRateLimit:  10,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the durable
// store, and the authentication, key, quota, and usage services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	keySvc     *service.KeyService
	usageSvc   *service.UsageService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, keySvc *service.KeyService, usageSvc *service.UsageService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		authSvc:  authSvc,
		keySvc:   keySvc,
		usageSvc: usageSvc,
		logger:   logger,
	}
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", openapi.NewHandler().ServeSpec)

	keyHandler := handler.NewKeyHandler(s.store, s.keySvc, s.usageSvc)
	sysHandler := handler.NewSystemHandler(s.store, s.authSvc, s.cfg.JWTExpiry)

	r.Route("/api/v1", func(r chi.Router) {

		// System APIs (operator management)
		r.Route("/system", func(r chi.Router) {
			// Login is unauthenticated but rate-limited against credential
			// stuffing; logout is a stateless no-op.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(s.cfg.LoginRateLimit))
				r.Post("/admin/session", sysHandler.Login)
			})
			r.Delete("/admin/session", sysHandler.Logout)

			// Everything else requires an admin session.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(s.authSvc))

				// Operator accounts
				r.Get("/admin", sysHandler.ListAdmins)
				r.Post("/admin", sysHandler.CreateAdmin)

				// API key lifecycle
				r.Post("/key", keyHandler.Issue)
				r.Get("/key", keyHandler.List)
				r.Get("/key/{keyID}", keyHandler.Get)
				r.Delete("/key/{keyID}", keyHandler.Deactivate)
				r.Post("/key/{keyID}/reactivate", keyHandler.Reactivate)
				r.Get("/key/{keyID}/usage", keyHandler.Usage)
			})
		})

		// Key-authenticated self-service APIs. Every request through here
		// consumes one call of the key's daily budget and is metered.
		r.Route("/key", func(r chi.Router) {
			r.Use(middleware.AuthenticateKey(s.authSvc))
			r.Use(middleware.Meter(s.usageSvc))

			r.Get("/validate", keyHandler.Validate)
			r.Get("/usage", keyHandler.SelfUsage)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the backing store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		checks["store"] = "error: " + err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
