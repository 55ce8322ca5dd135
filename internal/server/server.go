package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/saitei/internal/ratelimit"
	"github.com/ashita-ai/saitei/internal/security"
)

// Server is the Observer HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for key registration etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	Handlers *Handlers
	Envelope *security.Envelope
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates the HTTP server with all observer routes configured.
func New(cfg Config) *Server {
	h := cfg.Handlers

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Per-route-group rate buckets at the HTTP layer; the envelope's
	// operation-keyed fixed windows still apply inside Authorize.
	readRL := ratelimit.Middleware(cfg.Limiter, "observer-read", identityKeyFunc, reqIDFunc)
	writeRL := ratelimit.Middleware(cfg.Limiter, "observer-write", identityKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (anonymous, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Observer read surface.
	mux.Handle("GET /observer/status", readRL(http.HandlerFunc(h.HandleStatus)))
	mux.Handle("GET /observer/metrics", readRL(http.HandlerFunc(h.HandleMetrics)))
	mux.Handle("GET /observer/progress", readRL(http.HandlerFunc(h.HandleProgress)))
	mux.Handle("GET /observer/diagnostics", readRL(http.HandlerFunc(h.HandleDiagnostics)))
	mux.Handle("GET /observer/logs", readRL(http.HandlerFunc(h.HandleLogs)))
	mux.Handle("GET /observer/cot", readRL(http.HandlerFunc(h.HandleCoT)))
	mux.Handle("GET /observer/tasks/{task_id}", readRL(http.HandlerFunc(h.HandleGetTask)))
	mux.Handle("GET /observer/tasks/{task_id}/cot", readRL(http.HandlerFunc(h.HandleTaskCoT)))

	// Observer write surface.
	mux.Handle("POST /observer/tasks", writeRL(http.HandlerFunc(h.HandleSubmitTask)))
	mux.Handle("POST /observer/arbiter/{action}", writeRL(http.HandlerFunc(h.HandleArbiterControl)))
	mux.Handle("POST /observer/commands", writeRL(http.HandlerFunc(h.HandleCommand)))
	mux.Handle("POST /observer/observations", writeRL(http.HandlerFunc(h.HandleObservation)))

	// SSE stream (no HTTP rate bucket, long-lived connection).
	mux.Handle("GET /observer/events/stream", http.HandlerFunc(h.HandleEventStream))

	// Health (anonymous).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Envelope, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// identityKeyFunc keys HTTP rate buckets by the authenticated identity.
// Requests without a security context fall back to skipping the bucket;
// the auth middleware rejects them anyway.
func identityKeyFunc(r *http.Request) string {
	sc := SecurityContextFromContext(r.Context())
	if sc == nil {
		return ""
	}
	return sc.TenantID + ":" + sc.UserID
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
