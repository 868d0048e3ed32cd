// Package server exposes the hook manager over an HTTP control API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/hookd/pkg/auth"
	"github.com/kadirpekel/hookd/pkg/config"
	"github.com/kadirpekel/hookd/pkg/history"
	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/dependency"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
	"github.com/kadirpekel/hookd/pkg/hooks/manager"
	"github.com/kadirpekel/hookd/pkg/observability"
)

// Engine is the part of the hook manager the API drives.
type Engine interface {
	Trigger(ctx context.Context, event hooks.Event) (executor.AggregatedResult, error)
	Hooks() []hooks.Definition
	Plan(event hooks.EventType) (*dependency.Plan, error)
	Stats() manager.Stats
	Enabled() bool
	ActiveExecutions() []string
	CancelExecution(id string) bool
	CancelAll() int
}

// Options configures a Server. Engine is required.
type Options struct {
	Config        config.ServerConfig
	Engine        Engine
	History       history.Store
	Observability *observability.Manager
	Auth          *auth.Validator
	Logger        *slog.Logger
}

// Server serves the control API.
type Server struct {
	cfg     config.ServerConfig
	engine  Engine
	history history.Store
	obs     *observability.Manager
	auth    *auth.Validator
	logger  *slog.Logger
	handler http.Handler
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.SetDefaults()

	s := &Server{
		cfg:     opts.Config,
		engine:  opts.Engine,
		history: opts.History,
		obs:     opts.Observability,
		auth:    opts.Auth,
		logger:  opts.Logger,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.obs != nil {
		r.Use(observability.HTTPMiddleware(s.obs.Tracer(observability.TracerName), s.obs.Metrics()))
	}
	if s.auth != nil {
		excluded := append([]string(nil), s.cfg.Auth.ExcludedPaths...)
		if s.metricsHandler() != nil {
			excluded = append(excluded, s.obs.MetricsPath())
		}
		r.Use(s.auth.Middleware(excluded...))
		s.logger.Info("Authentication enabled", "excluded_paths", excluded)
	}

	r.Get("/health", s.handleHealth)
	if h := s.metricsHandler(); h != nil {
		r.Method(http.MethodGet, s.obs.MetricsPath(), h)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleTrigger)
		r.Get("/hooks", s.handleHooks)
		r.Get("/plan/{event}", s.handlePlan)
		r.Get("/stats", s.handleStats)
		r.Get("/executions", s.handleExecutions)
		r.Post("/executions/cancel", s.handleCancelAll)
		r.Post("/executions/{id}/cancel", s.handleCancel)
		r.Get("/history", s.handleHistory)
	})
	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.obs == nil || s.obs.Metrics() == nil {
		return nil
	}
	return s.obs.Metrics().Handler()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Run listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}
