package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatapp/ws-server/internal/middleware"
	"github.com/chatapp/ws-server/pkg/logger"
)

// ScopeUsersWrite is required to register users through the API.
const ScopeUsersWrite = "users:write"

// RouterConfig wires handlers into the HTTP router.
type RouterConfig struct {
	Health        *HealthHandler
	Chat          *ChatHandler
	Users         *UserHandler
	Conversations *ConversationHandler
	// Messages is nil when the journal is disabled.
	Messages *MessageHandler

	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Logger *logger.Logger
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	// WebSocket chat; the handler authenticates after the upgrade.
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).
		Get("/ws/chat/{id}", cfg.Chat.Serve)

	if cfg.JWTSecret == "" {
		cfg.Logger.Warn("JWT_SECRET not set, REST API disabled")
		return r
	}

	r.Route("/api/v1", func(r chi.Router) {
		if len(cfg.AllowedOrigins) > 0 {
			r.Use(middleware.CORS(cfg.AllowedOrigins))
		}
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/users", func(r chi.Router) {
			r.With(middleware.RequireScope(ScopeUsersWrite)).Post("/", cfg.Users.Register)
			r.Get("/{username}", cfg.Users.Get)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", cfg.Conversations.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Conversations.Get)
				if cfg.Messages != nil {
					r.Get("/messages", cfg.Messages.List)
				}
			})
		})
	})

	return r
}
