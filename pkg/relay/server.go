// Package relay hosts the local HTTP server external panels talk to.
// Turn events stream out over SSE and websocket, messages and approval
// decisions come back in as JSON posts, and conversations can be
// listed, opened, searched, and deleted without touching the console.
// The server refuses to bind anywhere but loopback unless an auth
// token is configured.
package relay

import (
	"context"
	stdliberrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/stagehand-dev/stagehand/pkg/backend"
	"github.com/stagehand-dev/stagehand/pkg/bus"
	"github.com/stagehand-dev/stagehand/pkg/conversation"
	"github.com/stagehand-dev/stagehand/pkg/cost"
	"github.com/stagehand-dev/stagehand/pkg/errors"
	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/orchestrator"
)

// DefaultBindAddress is where the relay listens when no address is
// configured.
const DefaultBindAddress = "127.0.0.1:7411"

const shutdownTimeout = 5 * time.Second

// Config controls the relay server behavior.
type Config struct {
	BindAddress    string
	AuthToken      string
	AllowedOrigins []string
	PublicMetrics  bool
	Version        string
}

// Server hosts the JSON/HTTP + SSE/WebSocket API for external panels.
type Server struct {
	cfg      Config
	orch     *orchestrator.Orchestrator
	manager  *conversation.Manager
	eventBus bus.MessageBus

	search  *conversation.SearchIndex
	costs   *cost.Tracker
	backend *backend.Client
	logger  *logging.Logger

	streams    *streamLimiter
	router     *chi.Mux
	httpServer *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithSearchIndex enables GET /search against the given index.
func WithSearchIndex(index *conversation.SearchIndex) Option {
	return func(s *Server) { s.search = index }
}

// WithCostTracker includes budget status in GET /status responses.
func WithCostTracker(tracker *cost.Tracker) Option {
	return func(s *Server) { s.costs = tracker }
}

// WithBackend includes backend health in GET /status responses.
func WithBackend(client *backend.Client) Option {
	return func(s *Server) { s.backend = client }
}

// NewServer constructs a relay bound to the orchestrator, conversation
// manager, and event bus.
func NewServer(cfg Config, orch *orchestrator.Orchestrator, manager *conversation.Manager, eventBus bus.MessageBus, opts ...Option) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}

	s := &Server{
		cfg:      cfg,
		orch:     orch,
		manager:  manager,
		eventBus: eventBus,
		streams:  newStreamLimiter(maxStreamClients),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)
	router.Use(s.securityHeadersMiddleware)
	router.Use(s.requestMetricsMiddleware)

	// Pre-auth endpoints; /metrics does its own token check.
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)

	router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)
		r.Get("/status", s.handleStatus)
		r.Get("/search", s.handleSearch)
		r.Post("/messages", s.handleSendMessage)
		r.Post("/approvals/{callID}", s.handleApproval)
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleCreateConversation)
			r.Get("/{conversationID}", s.handleGetConversation)
			r.Post("/{conversationID}/open", s.handleOpenConversation)
			r.Delete("/{conversationID}", s.handleDeleteConversation)
		})
	})
	return router
}

// Handler returns the relay's HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is cancelled. The
// handler is wrapped for HTTP/2 cleartext so websockets survive
// reverse proxies that strip upgrade headers.
func (s *Server) Start(ctx context.Context) error {
	if err := s.validateStartupConfig(); err != nil {
		return err
	}

	h2s := &http2.Server{}
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           h2c.NewHandler(s.router, h2s),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "relay listen failed").
			WithContext("address", s.cfg.BindAddress)
	}
	s.logEvent(logging.LevelInfo, "relay_started", "serving relay on "+ln.Addr().String(), map[string]any{
		"address": ln.Addr().String(),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.logEvent(logging.LevelInfo, "relay_stopped", "relay shut down", nil)
		return err
	})
	return g.Wait()
}

func (s *Server) validateStartupConfig() error {
	if isLoopbackBindAddress(s.cfg.BindAddress) {
		return nil
	}
	if strings.TrimSpace(s.cfg.AuthToken) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "refusing to bind relay to a non-loopback address without an auth token").
			WithContext("address", s.cfg.BindAddress)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func isLoopbackBindAddress(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "", "0.0.0.0", "::":
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryRelay,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
