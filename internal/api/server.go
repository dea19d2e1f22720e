// Package api serves the blinkscan HTTP control surface: the scanner view,
// speed control, the message buffer, session history, metrics and the two
// WebSocket streams.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"blinkscan/internal/health"
	"blinkscan/internal/logging"
	"blinkscan/internal/metrics"
	"blinkscan/internal/pipeline"
	"blinkscan/internal/store"
)

// Controller is the part of the pipeline the API drives.
type Controller interface {
	View() pipeline.View
	SetPeriod(ctx context.Context, d time.Duration) error
	SetSpeed(ctx context.Context, preset string) error
	Text(ctx context.Context) (string, error)
	ClearText(ctx context.Context) error
	Learn(ctx context.Context) ([]string, error)
}

// SessionLister lists stored sessions.
type SessionLister interface {
	RecentSessions(limit int) ([]store.Session, error)
}

// Options configures a Server. Controller is required; nil optional fields
// disable their routes.
type Options struct {
	Controller Controller
	Sessions   SessionLister
	Landmarks  http.Handler
	View       http.Handler
	Metrics    *metrics.Registry
	Health     *health.Checker
	Logger     *logging.Logger

	// CommandTimeout bounds a call into the pipeline.
	CommandTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	router *mux.Router
	logger *logging.Logger
	http   *http.Server
}

// DefaultCommandTimeout is used when Options.CommandTimeout is zero.
const DefaultCommandTimeout = 2 * time.Second

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverer)

	if s.opts.Health != nil {
		r.Handle("/health", s.opts.Health.HealthHandler()).Methods(http.MethodGet)
		r.Handle("/health/live", s.opts.Health.LivenessHandler()).Methods(http.MethodGet)
		r.Handle("/health/ready", s.opts.Health.ReadinessHandler()).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		}).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.accessLog)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/speed", s.handleSpeed).Methods(http.MethodPut)
	api.HandleFunc("/text", s.handleText).Methods(http.MethodGet)
	api.HandleFunc("/text/clear", s.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/text/learn", s.handleLearn).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)

	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.HTTPHandler()).Methods(http.MethodGet)
	}
	if s.opts.Landmarks != nil {
		r.Handle("/ws/landmarks", s.opts.Landmarks).Methods(http.MethodGet)
	}
	if s.opts.View != nil {
		r.Handle("/ws/view", s.opts.View).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("http api listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Hijacked WebSocket connections are not tracked; close their hubs
// separately.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
