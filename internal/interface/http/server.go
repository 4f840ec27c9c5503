// Package http implements the REST API of the Shadow Ranch progress service.
// It exposes the progress ledger and the achievement issuer to learners
// holding an ed25519 identity, plus health endpoints for the orchestrator.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/application/command"
	"github.com/alem-hub/shadow-ranch/internal/application/query"
	"github.com/alem-hub/shadow-ranch/internal/interface/http/handlers"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Addr string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes caps request bodies; larger ones get 413.
	MaxBodyBytes int64

	// AllowedOrigins enables CORS for the listed origins ("*" for any).
	AllowedOrigins []string

	// RateLimitPerMinute is the per-IP budget; 0 disables limiting.
	RateLimitPerMinute int

	// TrustedProxies are addresses or CIDR ranges whose forwarding headers
	// are believed. Other peers are identified by their socket address.
	TrustedProxies []string
}

func DefaultConfig() Config {
	return Config{
		Addr:               "0.0.0.0:8080",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       16 << 10,
		RateLimitPerMinute: 120,
	}
}

// ConfigFrom maps the HTTP section of the app config.
func ConfigFrom(c config.HTTPConfig) Config {
	cfg := DefaultConfig()
	cfg.Addr = c.Addr()
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.IdleTimeout = c.IdleTimeout
	cfg.MaxBodyBytes = c.MaxBodyBytes
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.RateLimitPerMinute = c.RateLimitPerMinute
	cfg.TrustedProxies = c.TrustedProxies
	return cfg
}

// Dependencies are the use cases the routes dispatch to. A nil handler
// turns its routes into 501 responses.
type Dependencies struct {
	InitializeUserHandler    *command.InitializeUserHandler
	CompleteChallengeHandler *command.CompleteChallengeHandler
	CompleteModuleHandler    *command.CompleteModuleHandler
	MintCredentialHandler    *command.MintAchievementCredentialHandler

	GetProgressHandler *query.GetProgressHandler
	GetStatsHandler    *query.GetStatsHandler

	// Authenticator verifies request tokens on every mutation.
	Authenticator *Authenticator
	HealthChecker handlers.HealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server owns the router, the middleware chain and the listener.
type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	limiter *ipRateLimiter
	proxies proxySet
	handler http.Handler
	http    *http.Server

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

func NewServer(cfg Config, deps Dependencies) *Server {
	s := &Server{config: cfg, deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	proxies, err := parseProxies(cfg.TrustedProxies)
	if err != nil {
		s.logger.Warn("ignoring trusted proxies", logger.Err(err))
	}
	s.proxies = proxies

	s.handler = s.wrap(s.routes())
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return s
}

// Handler is the router wrapped in the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve blocks on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server already running")
	}
	s.running, s.startedAt = true, time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", ln.Addr().String()))
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields at most one
// error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

// Uptime is zero while the server is not serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
