// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
	"github.com/Iron-Ham/roombot/internal/prompt"
)

const (
	defaultMaxBodyBytes  = 64 << 10
	defaultWatchInterval = 2 * time.Second
	defaultWatchTimeout  = 30 * time.Minute
)

// Service is the orchestrator surface the HTTP layer needs.
type Service interface {
	Spawn(ctx context.Context, req bot.Request, kind bot.BackendKind) (bot.Handle, error)
	GetStatus(ctx context.Context, id string) (bot.Handle, error)
	List() []bot.Handle
	Backends() []bot.BackendKind
	Capacity() int
}

// Catalog lists the prompt scenarios offered to clients.
type Catalog interface {
	Scenarios() []prompt.Scenario
}

// Config holds the HTTP-facing settings.
type Config struct {
	// PathPrefix is prepended to every route, e.g. "/api".
	PathPrefix string

	// DefaultBackend receives every spawn.
	DefaultBackend bot.BackendKind

	// APIKeys enables bearer auth when non-empty.
	APIKeys map[string]struct{}

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins map[string]struct{}

	MaxBodyBytes int64

	// WatchInterval is how often a status watch re-reads the status, and
	// WatchTimeout bounds the lifetime of one watch.
	WatchInterval time.Duration
	WatchTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	c.PathPrefix = "/" + strings.Trim(strings.TrimSpace(c.PathPrefix), "/")
	if c.PathPrefix == "/" {
		c.PathPrefix = ""
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = defaultWatchInterval
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = defaultWatchTimeout
	}
	return c
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	cfg     Config
	svc     Service
	catalog Catalog
	logger  *logging.Logger
	mux     *http.ServeMux

	draining atomic.Bool
}

// New creates a Server. catalog may be nil, in which case /prompts lists
// nothing.
func New(cfg Config, svc Service, catalog Catalog, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		cfg:     cfg.withDefaults(),
		svc:     svc,
		catalog: catalog,
		logger:  logger.With("component", "api"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) path(p string) string {
	return s.cfg.PathPrefix + p
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET "+s.path("/healthz"), s.handleHealth)
	s.mux.HandleFunc("GET "+s.path("/readyz"), s.handleReady)

	s.mux.HandleFunc("POST "+s.path("/start"), s.handleStart)
	s.mux.HandleFunc("GET "+s.path("/status/{bot_id}"), s.handleStatus)
	s.mux.HandleFunc("GET "+s.path("/status/{bot_id}/watch"), s.handleWatch)
	s.mux.HandleFunc("GET "+s.path("/bots"), s.handleBots)
	s.mux.HandleFunc("GET "+s.path("/prompts"), s.handlePrompts)

	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) isProbe(r *http.Request) bool {
	return r.URL.Path == s.path("/healthz") || r.URL.Path == s.path("/readyz")
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	slogger := s.logger.Slog()
	var h http.Handler = s.mux
	h = Auth(s.cfg.APIKeys, s.isProbe, h)
	h = CORS(s.cfg.CORSOrigins, h)
	h = Recover(slogger, h)
	h = AccessLog(slogger, h)
	h = RequestID(h)
	return h
}

// Drain marks the server as shutting down; /readyz starts failing so load
// balancers stop routing new requests.
func (s *Server) Drain() {
	s.draining.Store(true)
}

// Draining reports whether Drain was called.
func (s *Server) Draining() bool {
	return s.draining.Load()
}
