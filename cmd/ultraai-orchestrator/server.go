package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/auth"
	"github.com/ultraai/orchestrator/authstore"
	"github.com/ultraai/orchestrator/internal/server"
	"github.com/ultraai/orchestrator/pipeline"
	"github.com/ultraai/orchestrator/settings"
)

// Server owns the HTTP listener lifecycle; the lifecycle management itself
// (non-blocking Start, signal-driven graceful Shutdown) is unchanged from
// internal/server.Manager.
type Server struct {
	settings settings.Settings
	logger   *zap.Logger

	gate     *auth.Gate
	accounts *authstore.Store
	pipeline *pipeline.Pipeline

	httpManager *server.Manager
}

// NewServer builds a Server from its fully-wired dependencies.
func NewServer(s settings.Settings, logger *zap.Logger, gate *auth.Gate, accounts *authstore.Store, p *pipeline.Pipeline) *Server {
	return &Server{settings: s, logger: logger, gate: gate, accounts: accounts, pipeline: p}
}

// Start builds the route table, applies the middleware chain, and starts
// listening in the background.
func (s *Server) Start(addr string) error {
	authHandler := &AuthHandler{Gate: s.gate, Store: s.accounts, Logger: s.logger}
	orchHandler := &OrchestratorHandler{Pipeline: s.pipeline, Settings: s.settings, Logger: s.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/auth/register", authHandler.Register)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)
	mux.HandleFunc("/api/orchestrator/analyze", orchHandler.Analyze)

	skipAuth := []string{"/healthz", "/api/auth/register", "/api/auth/login", "/api/auth/refresh"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		CORS(nil),
		JWTAuth(s.gate, skipAuth, s.logger),
	)

	cfg := server.DefaultConfig()
	cfg.Addr = addr
	s.httpManager = server.NewManager(handler, cfg, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	s.logger.Info("ultraai-orchestrator listening", zap.String("addr", addr))
	return nil
}

// WaitForShutdown blocks until a termination signal arrives, then shuts the
// HTTP server down gracefully.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
}

// Shutdown shuts the HTTP server down explicitly; WaitForShutdown covers the
// signal-driven production path.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpManager.Shutdown(ctx)
}
