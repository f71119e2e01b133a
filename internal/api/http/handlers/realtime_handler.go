package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/realtime"
)

// RealtimeHandler upgrades authenticated requests to websocket clients.
type RealtimeHandler struct {
	opts realtime.ClientOptions
}

// NewRealtimeHandler constructs handler.
func NewRealtimeHandler(opts realtime.ClientOptions) *RealtimeHandler {
	return &RealtimeHandler{opts: opts}
}

// Upgrade rejects plain HTTP requests to GET /ws.
func (h *RealtimeHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve GET /ws. The auth middleware has already stored the principal.
func (h *RealtimeHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		principal, ok := auth.PrincipalFromLocals(conn.Locals(auth.PrincipalKey))
		if !ok {
			_ = conn.Close()
			return
		}
		realtime.NewClient(conn, principal.Sender, h.opts).Serve(context.Background())
	})
}
