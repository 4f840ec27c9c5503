package http

import (
	"net/http"

	"github.com/alem-hub/shadow-ranch/internal/interface/http/handlers"
)

// routes registers every endpoint. Reads of a record by reference are
// public; all mutations go through requireAuth.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// ───────────────────────────────────────────────────────────────────────
	// Health
	// ───────────────────────────────────────────────────────────────────────
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	// ───────────────────────────────────────────────────────────────────────
	// Own record: the requester is the owner
	// ───────────────────────────────────────────────────────────────────────
	mux.Handle("POST /api/v1/progress", s.requireAuth(s.handleInitializeUser))
	mux.Handle("GET /api/v1/progress", s.requireAuth(s.handleGetOwnProgress))
	mux.Handle("POST /api/v1/progress/challenges/{id}", s.requireAuth(s.handleCompleteChallenge))
	mux.Handle("POST /api/v1/progress/modules/{id}", s.requireAuth(s.handleCompleteModule))
	mux.Handle("POST /api/v1/progress/modules/{id}/credential", s.requireAuth(s.handleMintCredential))

	// ───────────────────────────────────────────────────────────────────────
	// Record by reference
	// ───────────────────────────────────────────────────────────────────────
	mux.HandleFunc("GET /api/v1/records/{authority}", s.handleGetProgress)
	mux.Handle("POST /api/v1/records/{authority}/challenges/{id}", s.requireAuth(s.handleCompleteChallenge))
	mux.Handle("POST /api/v1/records/{authority}/modules/{id}", s.requireAuth(s.handleCompleteModule))
	mux.Handle("POST /api/v1/records/{authority}/modules/{id}/credential", s.requireAuth(s.handleMintCredential))

	mux.HandleFunc("GET /api/v1/stats", s.handleGetStats)
	return mux
}

// wrap applies the middleware chain, outermost first.
func (s *Server) wrap(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.tracing,
		s.recoverPanics,
		s.assignRequestID,
		s.accessLog,
	}
	if len(s.config.AllowedOrigins) > 0 {
		chain = append(chain, s.cors)
	}
	if s.limiter != nil {
		chain = append(chain, s.rateLimit)
	}
	chain = append(chain,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
		handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes),
	)
	return handlers.ChainHandler(h, chain...)
}
