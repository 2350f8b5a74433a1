// Package serve hosts the voice bridge over HTTP: the WebSocket endpoint
// clients connect to, plus health, status and intake endpoints.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/bridge"
)

// Config holds server configuration.
type Config struct {
	Host string
	Port int
	// Path is where WebSocket clients connect.
	Path         string
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64
	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty
	// allows any origin.
	AllowedOrigins []string
	// IntakeToken, when set, is required as a bearer token on the HTTP
	// intake endpoints.
	IntakeToken string
}

const (
	defaultPort         = 8765
	defaultPath         = "/bridge"
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultMaxFrameSize = 1 << 20
	shutdownGrace       = 5 * time.Second
)

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
}

// Server accepts client connections and exposes the bridge over HTTP.
type Server struct {
	cfg      Config
	bridge   *bridge.Bridge
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
	server   *http.Server

	// baseCtx is cancelled on shutdown; every connection task derives from it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup

	// frameHandler processes inbound frames; tests replace it.
	frameHandler func(ctx context.Context, id string, data []byte, logger *slog.Logger)
}

// New creates a server around b. The bridge is owned by the caller.
func New(cfg Config, b *bridge.Bridge, logger *slog.Logger) *Server {
	applyDefaults(&cfg)
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		bridge:  b,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	// Origin validation happens in handleBridge so that it can use the
	// configured allowlist.
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.frameHandler = s.handleFrame
	s.router = s.buildRouter()
	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(s.recovererMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)

	// WebSocket endpoint for bridge clients
	r.Get(s.cfg.Path, s.handleBridge)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Group(func(r chi.Router) {
			r.Use(s.intakeAuthMiddleware)
			r.Post("/voice/text", s.handleSubmitText)
			r.Post("/voice/agent", s.handleSubmitAgent)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, "not found", requestIDFromContext(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed", requestIDFromContext(r.Context()))
	})
	return r
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start listens on the configured address, runs the status broadcaster and
// blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	statusCtx, stopStatus := context.WithCancel(s.baseCtx)
	defer stopStatus()
	go s.bridge.Run(statusCtx)

	s.logger.Info("bridge server started",
		"addr", ln.Addr().String(),
		"ws_url", (&url.URL{Scheme: "ws", Host: ln.Addr().String(), Path: s.cfg.Path}).String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	}
}

// Shutdown stops accepting connections, cancels every connection task and
// waits for their cleanup to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	already := s.closing
	s.closing = true
	s.mu.Unlock()

	s.cancel()

	var err error
	if s.server != nil && !already {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("bridge server stopped", "clients", s.bridge.Registry.Count())
	case <-ctx.Done():
		// Hung handlers: force their transports closed.
		s.bridge.CloseAll()
		return ctx.Err()
	}
	return err
}

// beginSession registers a connection task unless the server is closing.
func (s *Server) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients don't send Origin.
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil || allowedURL.Scheme == "" || allowedURL.Host == "" {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	s.logger.Warn("ws: rejected origin", "origin", origin)
	return false
}
