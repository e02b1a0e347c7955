// Package api serves the read-side JSON API over the recorded sessions and
// messages, plus the operational endpoints (health, readiness, metrics,
// on-demand reconciliation).
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronicle-bot/chronicle/internal/metrics"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Store      SessionReader    // Required
	Aggregator DetailAggregator // Required
	Sweeper    Sweeper          // Optional: nil disables POST /api/v1/reconcile
	Pool       *pgxpool.Pool    // Optional: nil disables pool stats in /ready
	TrustProxy bool             // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst  int              // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Aggregator == nil {
		return nil, errors.New("aggregator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &sessionHandler{
		store:      cfg.Store,
		aggregator: cfg.Aggregator,
		logger:     logger,
	}

	mux := http.NewServeMux()

	// Session and message reads
	mux.HandleFunc("GET /api/v1/sessions", sh.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sh.getSessionMessages)
	mux.HandleFunc("GET /api/v1/sessions/{id}/details", sh.getSessionDetails)
	mux.HandleFunc("GET /api/v1/session-details", sh.listSessionDetails)
	mux.HandleFunc("GET /api/v1/chats/{id}/messages", sh.getChatMessages)

	// On-demand reconciliation (optional — only registered if a sweeper is provided)
	if cfg.Sweeper != nil {
		rh := &reconcileHandler{sweeper: cfg.Sweeper, logger: logger}
		mux.HandleFunc("POST /api/v1/reconcile", rh.trigger)
	}

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID must be before Logging so the header is set before the
	// response starts.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to keep health probes and metrics scrapes out of
	// the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("GET /metrics", metrics.Handler())
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
