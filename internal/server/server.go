// Package server exposes node history over HTTP: a JSON API for the
// presentation layer and host event feed, plus a small HTML view.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/config"
	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/logging"
	"github.com/caevv/agenthistory/internal/query"
	"github.com/caevv/agenthistory/internal/scheduler"
	"github.com/caevv/agenthistory/internal/store"
)

// History is the query and event surface served by the API.
type History interface {
	Query(ctx context.Context, node string, p query.Params) (*history.Result, error)
	MatchNodes(pattern string) ([]string, error)
	Trend(ctx context.Context, p history.TrendParams) (*history.Trend, error)
	Run(job string, number int) (*build.Run, error)
	Dispatch(ev history.Event) error
}

// Tasks gives access to the maintenance scheduler. It may be nil.
type Tasks interface {
	ListTasks() []string
	GetTaskStats(name string) (*scheduler.TaskStats, bool)
	RunNow(name string) (*scheduler.Execution, error)
}

// Options configures a Server.
type Options struct {
	Addr        string
	CORSOrigins []string
	History     config.History
}

// Server represents the HTTP server for the node history API
type Server struct {
	opts    Options
	history History
	runs    store.Writer
	tasks   Tasks
	logger  *slog.Logger

	srv       *http.Server
	router    *chi.Mux
	startTime time.Time

	mu      sync.Mutex
	started bool
}

// New creates a new Server instance
func New(opts Options, hist History, runs store.Writer, tasks Tasks, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		opts:      opts,
		history:   hist,
		runs:      runs,
		tasks:     tasks,
		logger:    logger,
		startTime: time.Now(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/nodes", s.handleListNodes)
		r.Get("/nodes/{node}/history", s.handleNodeHistory)
		r.Get("/trend", s.handleTrend)
		r.Get("/runs/{job}/{number}", s.handleGetRun)
		r.Put("/runs", s.handlePutRun)
		r.Post("/events", s.handleEvent)
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks/{name}/run", s.handleRunTask)
	})

	r.Get("/", s.handleDashboard)
	r.Get("/nodes/{node}", s.handleNodePage)

	return r
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.srv = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", s.opts.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server", "reason", ctx.Err())
		return s.Stop(context.Background())
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.srv == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during shutdown", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.started = false
	s.logger.Info("HTTP server stopped")
	return nil
}

// requestLogger attaches a request-scoped logger to the context and logs
// each completed request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLogger := s.logger.With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := logging.WithContext(r.Context(), reqLogger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelWarn
			}
			reqLogger.Log(ctx, level, "request completed",
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_written", ww.BytesWritten(),
				"remote_addr", r.RemoteAddr)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

// Uptime returns the server uptime as a string
func (s *Server) Uptime() string {
	duration := time.Since(s.startTime)
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
