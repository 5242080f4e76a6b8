package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/recall/internal/agent"
	"github.com/soyeahso/recall/internal/config"
	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/history"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
	"github.com/soyeahso/recall/internal/store"
	"github.com/soyeahso/recall/internal/vectormem"
	"github.com/soyeahso/recall/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// turnTimeout bounds one chat turn, tool calls included.
const turnTimeout = 5 * time.Minute

// TurnRunner answers user turns and owns live session state.
type TurnRunner interface {
	Turn(ctx context.Context, ref domain.SessionRef, text string) (*agent.TurnResult, error)
	Stats(id string) (history.Stats, bool)
	Sessions() []string
	End(id string) bool
	EndIdle(maxIdle time.Duration) []string
}

// SessionStore persists session identities.
type SessionStore interface {
	Create(ctx context.Context, userID string) (*store.SessionRecord, error)
	GetOrCreate(ctx context.Context, id, userID string) (*store.SessionRecord, error)
	Touch(ctx context.Context, id string) error
}

// MemorySearcher queries long-term memory.
type MemorySearcher interface {
	Query(ctx context.Context, text string, k int, opts ...vectormem.QueryOption) domain.RetrievalResult
}

// Server is the recall HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	token    string
	log      *logging.Logger
	clients  *clientSet
	handlers map[string]RequestHandler

	runner   TurnRunner
	sessions SessionStore
	memory   MemorySearcher
	metrics  http.Handler

	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithSessions persists sessions created over HTTP and WebSocket.
func WithSessions(st SessionStore) ServerOption {
	return func(s *Server) { s.sessions = st }
}

// WithMemory enables the memory search endpoint.
func WithMemory(m MemorySearcher) ServerOption {
	return func(s *Server) { s.memory = m }
}

// WithMetricsHandler replaces the default Prometheus handler.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// New creates a server answering turns through runner.
func New(cfg config.Config, runner TurnRunner, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		token:       cfg.Server.Token,
		log:         log.Sub("gateway"),
		clients:     newClientSet(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		runner:      runner,
		metrics:     metrics.Handler(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRPCHandlers()
	return s
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Router builds the HTTP handler. Health and metrics are public; the
// /v1 routes require the bearer token when one is configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware(s.log), corsMiddleware(s.cfg.Server.AllowedOrigins))
	r.NotFound(handleNotFound)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/{id}/turns", s.handleTurn)
		r.Get("/sessions/{id}/stats", s.handleStats)
		r.Delete("/sessions/{id}", s.handleEndSession)
		r.Get("/memory/search", s.handleMemorySearch)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Addr

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      turnTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Server.TLSCertPath != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.token != "" && !isLoopback(ln.Addr()) {
		s.log.Warn().Msg("TLS is not enabled, the bearer token travels in cleartext")
	}
	if s.token == "" && !isLoopback(ln.Addr()) {
		s.log.Warn().Str("addr", ln.Addr().String()).Msg("no server token configured on a non-loopback address")
	}

	go s.authLimiter.sweep(ctx)
	go s.sweepSessions(ctx)

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.token != "").
		Int("methods", len(s.handlers)).
		Msg("server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.closeAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sweepSessions ends idle live sessions every minute until ctx is done.
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.endIdleSessions()
		}
	}
}

func (s *Server) endIdleSessions() []string {
	maxIdle := time.Duration(s.cfg.Server.SessionIdleMinutes) * time.Minute
	if maxIdle <= 0 {
		return nil
	}
	return s.runner.EndIdle(maxIdle)
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

// health is the payload of the RPC health method.
type health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
}

func (s *Server) health() health {
	return health{
		Status:   "ok",
		Version:  version.Version,
		Clients:  s.clients.count(),
		Sessions: len(s.runner.Sessions()),
	}
}
