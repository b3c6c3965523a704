package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/crypto"
	"github.com/hashbrotherhood/hashmarket/internal/domain"
	"github.com/hashbrotherhood/hashmarket/internal/server/handler"
	"github.com/hashbrotherhood/hashmarket/internal/server/middleware"
	"github.com/hashbrotherhood/hashmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards /api/admin routes. If both key and hash are empty,
	// admin routes reject every request.
	AdminAPIKey     string
	AdminAPIKeyHash string
	// ProxyAuth verifies HMAC signatures on /api/proxy routes.
	ProxyAuth *crypto.ProxyAuth
	// RateLimiter caps requests per client IP; nil or a zero limit disables.
	RateLimiter        domain.RateLimiter
	RateLimitPerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Accounts *handler.AccountHandler
	Listings *handler.ListingHandler
	Orders   *handler.OrderHandler
	Admin    *handler.AdminHandler
	Proxy    *handler.ProxyHandler
	Stats    *handler.StatsHandler
}

// Server is the HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Admin routes get the API-key middleware, proxy routes get the HMAC
// middleware, and the whole mux sits behind rate limiting, logging, and CORS.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	adminAuth := middleware.AdminAuth(cfg.AdminAPIKey, cfg.AdminAPIKeyHash)
	proxyAuth := middleware.ProxyAuth(cfg.ProxyAuth)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Account and balance endpoints. Identity is the wallet in the path or
	// body; there is no session layer.
	mux.HandleFunc("POST /api/auth/connect", handlers.Accounts.Connect)
	mux.HandleFunc("GET /api/balance/{wallet}", handlers.Accounts.Balance)
	mux.HandleFunc("POST /api/balance/{wallet}/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("POST /api/balance/{wallet}/withdraw", handlers.Accounts.Withdraw)
	mux.HandleFunc("GET /api/balance/{wallet}/transactions", handlers.Accounts.Transactions)

	// Listing endpoints.
	mux.HandleFunc("GET /api/listings", handlers.Listings.Browse)
	mux.HandleFunc("POST /api/listings", handlers.Listings.Create)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.Get)
	mux.HandleFunc("PATCH /api/listings/{id}", handlers.Listings.Update)
	mux.HandleFunc("GET /api/accounts/{wallet}/listings", handlers.Listings.BySeller)

	// Order endpoints.
	mux.HandleFunc("POST /api/orders", handlers.Orders.Create)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.Get)
	mux.HandleFunc("GET /api/accounts/{wallet}/orders", handlers.Orders.ListByWallet)
	mux.HandleFunc("POST /api/orders/{id}/confirm", handlers.Orders.Confirm)
	mux.HandleFunc("POST /api/orders/{id}/dispute", handlers.Orders.Dispute)
	mux.HandleFunc("POST /api/orders/{id}/rate", handlers.Orders.Rate)

	// Admin endpoints, behind the API key.
	mux.Handle("POST /api/admin/orders/{id}/settle", adminAuth(http.HandlerFunc(handlers.Admin.Settle)))
	mux.Handle("GET /api/admin/review-queue", adminAuth(http.HandlerFunc(handlers.Admin.ReviewQueue)))
	mux.Handle("GET /api/admin/disputes", adminAuth(http.HandlerFunc(handlers.Admin.ListDisputes)))
	mux.Handle("POST /api/admin/disputes/{id}/resolve", adminAuth(http.HandlerFunc(handlers.Admin.ResolveDispute)))
	mux.Handle("POST /api/admin/accounts/{wallet}/ban", adminAuth(http.HandlerFunc(handlers.Admin.Ban)))
	mux.Handle("GET /api/admin/dashboard", adminAuth(http.HandlerFunc(handlers.Admin.Dashboard)))

	// Proxy telemetry callbacks, behind the HMAC signature check.
	mux.Handle("POST /api/proxy/samples", proxyAuth(http.HandlerFunc(handlers.Proxy.Samples)))
	mux.Handle("POST /api/proxy/disconnect", proxyAuth(http.HandlerFunc(handlers.Proxy.Disconnect)))

	// Public stats.
	mux.HandleFunc("GET /api/stats/platform", handlers.Stats.Platform)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if cfg.RateLimiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
