package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clinic-chat/internal/api/http/handlers"
	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Chats          *handlers.ChatsHandler
	Realtime       *handlers.RealtimeHandler
	DevTokens      *handlers.DevTokenHandler // nil outside development
	Metrics        fiber.Handler
	AuthMiddleware *auth.AuthMiddleware
	RateLimit      config.RateLimitConfig
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics)
	}
	if cfg.DevTokens != nil {
		app.Post("/dev/tokens", cfg.DevTokens.Issue)
	}

	requireParticipant := auth.RequireRole(domain.RoleClinic, domain.RoleDoctor)

	chats := app.Group("/chats", cfg.AuthMiddleware.Handle, requireParticipant)
	chats.Post("/", cfg.Chats.OpenChat)
	chats.Get("/", cfg.Chats.ListChats)
	chats.Get("/:id/messages", cfg.Chats.History)
	chats.Post("/:id/messages", SendRateLimiter(cfg.RateLimit), cfg.Chats.SendMessage)
	chats.Post("/:id/read", cfg.Chats.MarkRead)

	app.Get("/ws", cfg.AuthMiddleware.Handle, requireParticipant, cfg.Realtime.Upgrade, cfg.Realtime.Serve())
}
