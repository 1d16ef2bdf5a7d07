// Package server exposes the wagering engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string
}

// Handlers aggregates the REST handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Bets    *handler.BetHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. hub and
// rateLimit may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, rateLimit func(http.Handler) http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.AdminAPIKey)
	adminFunc := func(f http.HandlerFunc) http.Handler { return admin(f) }

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	// Markets.
	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.Handle("POST /api/markets", adminFunc(h.Markets.CreateMarket))
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/preview", h.Markets.PreviewBet)
	mux.HandleFunc("GET /api/markets/{id}/resolution", h.Markets.Resolution)
	mux.Handle("POST /api/markets/{id}/resolve", adminFunc(h.Markets.Resolve))
	mux.Handle("POST /api/markets/{id}/cancel", adminFunc(h.Markets.Cancel))

	// Bets, claims and balances.
	mux.HandleFunc("POST /api/markets/{id}/bets", h.Bets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/claim", h.Bets.Claim)
	mux.HandleFunc("GET /api/markets/{id}/positions/{bettorId}", h.Bets.Position)
	mux.HandleFunc("GET /api/bettors/{bettorId}/bets", h.Bets.BetsForBettor)
	mux.HandleFunc("GET /api/bettors/{bettorId}/balance", h.Bets.Balance)
	mux.Handle("POST /api/admin/gold/{bettorId}", adminFunc(h.Bets.Credit))

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	if rateLimit != nil {
		root = rateLimit(root)
	}
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.Logging(logger)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: root,
		logger:  logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
