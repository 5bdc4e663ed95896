package web

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/scholarstream/mailrelay/internal/auth"
	"github.com/scholarstream/mailrelay/internal/ratelimit"
	"github.com/scholarstream/mailrelay/internal/web/handlers"
	"github.com/scholarstream/mailrelay/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	SyncHandler       *handlers.SyncHandler
	ConnectionHandler *handlers.ConnectionHandler
	MessageHandler    *handlers.MessageHandler
	TokenHandler      *handlers.TokenHandler
	AuthService       *auth.Service
	Limiter           *ratelimit.Limiter
	DB                *sql.DB
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	r.Get("/healthz", handlers.Health(deps.DB))

	// Authenticated API (rate limited, bearer token)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter))
		r.Use(middleware.RequireToken(deps.AuthService))

		r.Post("/api/v1/sync", deps.SyncHandler.HandleSync)
		r.Post("/api/v1/connections", deps.ConnectionHandler.HandleCreateConnection)
		r.Get("/api/v1/messages", deps.MessageHandler.HandleListMessages)
		r.Post("/api/v1/tokens", deps.TokenHandler.HandleIssueToken)
	})

	return r
}
