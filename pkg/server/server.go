package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/A-new/ironbee/pkg/config"
	"github.com/A-new/ironbee/pkg/limits/ratelimit"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/security/auth"
	"github.com/A-new/ironbee/pkg/telemetry/health"
	"github.com/A-new/ironbee/pkg/telemetry/tracing"
	"github.com/A-new/ironbee/pkg/tx"
)

// MaxEvaluateBody bounds the request body of POST /evaluate.
const MaxEvaluateBody = 1 << 20

// Rules is the rule manager surface the admin endpoints use.
type Rules interface {
	Loaded() bool
	Status() manager.Status
	Reload() error
	EvaluateAll(ctx context.Context, t *tx.Transaction) ([]*engine.PhaseResult, error)
}

// Options configures a Server.
type Options struct {
	Config config.ServerConfig

	// Rules backs /rules, /rules/reload and /evaluate.
	Rules Rules

	// Health backs /healthz and /readyz. A checker with no checks is used
	// when nil.
	Health *health.Checker

	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	Build health.BuildInfo

	// Keys guard /rules and /evaluate when non-empty.
	Keys *auth.KeySet

	// TLS, when set, serves HTTPS.
	TLS *tls.Config

	// Tracer, when set, opens a server span per request.
	Tracer *tracing.Tracer

	// RateLimit, when set, throttles the guarded routes ahead of the key
	// check.
	RateLimit *ratelimit.Limiter
}

// Server is the admin HTTP server.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	running    bool
}

// New creates a server. Rules must be set.
func New(opts Options, logger *slog.Logger) (*Server, error) {
	if opts.Rules == nil {
		return nil, errors.New("server: rules are required")
	}
	if opts.Health == nil {
		opts.Health = health.New(0)
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: logger.With("component", "server"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.opts.Tracer != nil {
		r.Use(tracing.Middleware(s.opts.Tracer))
	}
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.opts.Health.LiveHandler())
	r.Get("/readyz", s.opts.Health.ReadyHandler())
	r.Get("/version", health.VersionHandler(s.opts.Build))
	if s.opts.Metrics != nil {
		r.Handle(s.opts.MetricsPath, s.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		if s.opts.RateLimit != nil {
			r.Use(ratelimit.Middleware(s.opts.RateLimit, s.logger))
		}
		if s.opts.Keys != nil && s.opts.Keys.Len() > 0 {
			r.Use(auth.Middleware(s.opts.Keys, s.logger))
		}
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Post("/reload", s.handleReload)
		})
		r.Post("/evaluate", s.handleEvaluate)
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address while the server runs.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start listens on the configured address and serves until ctx is canceled,
// then shuts down within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	ln, err := net.Listen("tcp", s.opts.Config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.Config.ReadTimeout,
		WriteTimeout: s.opts.Config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
	}
	s.addr = ln.Addr()
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting admin server", "address", ln.Addr().String(), "tls", s.opts.TLS != nil)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errc:
		s.setStopped()
		if err != nil {
			return fmt.Errorf("admin server error: %w", err)
		}
		return nil
	}
}

func (s *Server) shutdown() error {
	timeout := s.opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	s.logger.Info("shutting down admin server", "timeout", timeout.String())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	s.setStopped()
	if err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.running = false
	s.addr = nil
	s.mu.Unlock()
}

// requestLogger logs one line per request at debug level, or warn for 5xx.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
