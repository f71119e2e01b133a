package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clinic-chat/internal/api/dto"
	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/domain"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

// DevTokenHandler issues tokens for any participant. Mounted in development only.
type DevTokenHandler struct {
	tokens *auth.TokenManager
}

// NewDevTokenHandler constructs handler.
func NewDevTokenHandler(tokens *auth.TokenManager) *DevTokenHandler {
	return &DevTokenHandler{tokens: tokens}
}

// Issue POST /dev/tokens.
func (h *DevTokenHandler) Issue(c *fiber.Ctx) error {
	var req dto.DevTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	sender := domain.Sender{Role: req.Role, ID: strings.TrimSpace(req.ID)}
	if err := sender.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	token, expiresAt, err := h.tokens.GenerateToken(sender)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{Token: token, ExpiresAt: expiresAt}})
}
