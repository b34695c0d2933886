package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/wesm/breaktime/internal/config"
	"github.com/wesm/breaktime/internal/db"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server that exposes the tracker's JSON API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	db      *db.DB
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo
	metrics *Metrics
	limits  db.Limits
	loc     *time.Location

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server. The config must already be
// validated.
func New(
	cfg config.Config, database *db.DB, opts ...Option,
) *Server {
	loc, err := cfg.Location()
	if err != nil {
		log.Printf("warning: %v; using local time", err)
		loc = time.Local
	}
	s := &Server{
		cfg:    cfg,
		db:     database,
		mux:    http.NewServeMux(),
		limits: cfg.Limits(),
		loc:    loc,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.routes()
	return s
}

// ApplyConfig swaps in reloaded activities, range labels and
// time zone. Listen address and timeouts keep their startup
// values. An invalid time zone keeps the current one.
func (s *Server) ApplyConfig(cfg config.Config) {
	loc, err := cfg.Location()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Activities = cfg.Activities
	s.cfg.RangeLabels = cfg.RangeLabels
	s.limits = cfg.Limits()
	if err != nil {
		log.Printf("warning: %v; keeping %s", err, s.loc)
		return
	}
	s.cfg.Timezone = cfg.Timezone
	s.loc = loc
	s.db.SetLocation(loc)
}

// liveSettings is a consistent view of the reloadable config.
type liveSettings struct {
	cfg    config.Config
	limits db.Limits
	loc    *time.Location
}

func (s *Server) settings() liveSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return liveSettings{cfg: s.cfg, limits: s.limits, loc: s.loc}
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics sets the metrics collector. Nil is ignored.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHandlerDelay delays every timeout-wrapped handler.
// Tests use it to exceed a short write timeout.
func WithHandlerDelay(d time.Duration) Option {
	return func(s *Server) { s.handlerDelay = d }
}

// handle registers a timeout-wrapped, instrumented handler.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.instrument(pattern, s.withTimeout(h)))
}

func (s *Server) routes() {
	s.handle("GET /api/v1/activities", s.handleListActivities)
	s.handle("GET /api/v1/ranges", s.handleListRanges)

	s.handle("GET /api/v1/chats/{chat}/ongoing", s.handleListOngoing)
	s.handle("GET /api/v1/chats/{chat}/stats", s.handleChatStats)
	s.handle(
		"GET /api/v1/chats/{chat}/activities", s.handleListCompleted,
	)
	s.handle(
		"GET /api/v1/chats/{chat}/users/{user}/ongoing",
		s.handleGetOngoing,
	)
	s.handle(
		"POST /api/v1/chats/{chat}/users/{user}/start",
		s.handleStartActivity,
	)
	s.handle(
		"POST /api/v1/chats/{chat}/users/{user}/stop",
		s.handleStopActivity,
	)

	s.handle("GET /api/v1/stats", s.handleGetStats)
	s.handle("GET /api/v1/version", s.handleGetVersion)

	// Scrapes are not timeout-wrapped or counted.
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleGetStats(
	w http.ResponseWriter, r *http.Request,
) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		log.Printf("stats error: %v", err)
		writeError(w, http.StatusInternalServerError,
			"internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(corsMiddleware(logMiddleware(s.mux)))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, X-Request-ID",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("[%s] %s %s",
				w.Header().Get(requestIDHeader), r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
