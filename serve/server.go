// Package serve exposes the exercise backend over HTTP, WebSocket and
// server-sent events.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/container"
	"github.com/everydev1618/examlab/terminal"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultHeartbeat       = 30 * time.Second
)

// Catalog is the read-only exercise table.
type Catalog interface {
	All() []examlab.Exercise
	Get(id int) (examlab.Exercise, bool)
}

// Lifecycle drives exercise containers.
type Lifecycle interface {
	Start(ctx context.Context, id int) (examlab.Status, error)
	Stop(ctx context.Context, id int) (examlab.Status, error)
	Reset(ctx context.Context, id int) (examlab.Status, error)
	ProbeEngine(ctx context.Context) container.EngineStatus
}

// Checker grades exercises.
type Checker interface {
	Run(ctx context.Context, id int) (examlab.CheckResult, error)
}

// Terminal serves interactive shell sessions over a connection.
type Terminal interface {
	Serve(ctx context.Context, conn terminal.Conn) error
	CloseAll(reason string)
	Active() int
}

// Config holds server configuration.
type Config struct {
	Addr            string
	StaticDir       string
	ShutdownTimeout time.Duration
}

// Deps are the components the server exposes.
type Deps struct {
	Catalog   Catalog
	Store     *examlab.Store
	Lifecycle Lifecycle
	Checker   Checker
	Terminal  Terminal
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server is the HTTP server for the exercise API and terminal bridge.
type Server struct {
	cfg       Config
	catalog   Catalog
	store     *examlab.Store
	lifecycle Lifecycle
	checker   Checker
	terminal  Terminal
	gatherer  prometheus.Gatherer
	log       *slog.Logger
	feed      *StatusFeed
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	startedAt time.Time

	// base is cancelled on shutdown; hijacked connections watch it.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a Server and feeds store changes to its event streams.
func New(cfg Config, deps Deps) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		catalog:   deps.Catalog,
		store:     deps.Store,
		lifecycle: deps.Lifecycle,
		checker:   deps.Checker,
		terminal:  deps.Terminal,
		gatherer:  gatherer,
		log:       log,
		feed:      NewStatusFeed(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			// Single-tenant deployment; the client may be served from a dev server.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		heartbeat: defaultHeartbeat,
		startedAt: time.Now(),
		base:      base,
		cancel:    cancel,
	}
	s.store.OnChange(s.feed.PublishChange)
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/engine/status", s.handleEngineStatus)

	r.Route("/exercises", func(r chi.Router) {
		r.Get("/", s.handleListExercises)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetExercise)
			r.Post("/start", s.handleLifecycle("start", s.lifecycle.Start))
			r.Post("/stop", s.handleLifecycle("stop", s.lifecycle.Stop))
			r.Post("/reset", s.handleLifecycle("reset", s.lifecycle.Reset))
			r.Post("/check", s.handleCheck)
		})
	})

	r.Get("/ws/terminal", s.handleTerminal)
	r.Get("/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.NotFound(staticHandler(s.cfg.StaticDir).ServeHTTP)
	return r
}

// Start listens for HTTP requests and blocks until ctx is cancelled, then
// closes terminal sessions and event streams and drains the server.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("examlab serve started", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down server")
	case err := <-errCh:
		s.cancel()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	// Close streams first so their handlers return and the server can drain.
	s.feed.Close()
	s.terminal.CloseAll(terminal.ReasonShutdown)
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("server shutdown error", "error", err)
	}
	return nil
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request at debug level, or warn for
// server errors.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
