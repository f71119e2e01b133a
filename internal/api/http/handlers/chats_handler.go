package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/clinic-chat/internal/api/dto"
	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/observability"
	"github.com/spec-kit/clinic-chat/internal/service"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

const maxPageSize = 100

// ChatsHandler serves chat thread and message endpoints.
type ChatsHandler struct {
	service *service.ChatService
	metrics *observability.Metrics
}

// NewChatsHandler constructs handler.
func NewChatsHandler(chatService *service.ChatService, metrics *observability.Metrics) *ChatsHandler {
	return &ChatsHandler{service: chatService, metrics: metrics}
}

// OpenChat POST /chats.
func (h *ChatsHandler) OpenChat(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.OpenChatRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	thread, err := h.service.OpenChat(c.UserContext(), principal.Sender, service.OpenChatInput{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		ClinicID:  req.ClinicID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewChatResponse(thread)})
}

// ListChats GET /chats.
func (h *ChatsHandler) ListChats(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	threads, err := h.service.ListChats(c.UserContext(), principal.Sender, service.Page{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return err
	}
	items := make([]dto.ChatResponse, 0, len(threads))
	for i := range threads {
		items = append(items, dto.NewChatResponse(&threads[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// History GET /chats/:id/messages.
func (h *ChatsHandler) History(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.History(c.UserContext(), principal.Sender, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, dto.NewMessageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SendMessage POST /chats/:id/messages.
func (h *ChatsHandler) SendMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.SendMessage(c.UserContext(), principal.Sender, c.Params("id"), service.SendMessageInput{
		Body:        req.Body,
		Attachments: dto.ToAttachments(req.Attachments),
	})
	if err != nil {
		return err
	}
	h.metrics.MessageSent(string(principal.Role))
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// MarkRead POST /chats/:id/read.
func (h *ChatsHandler) MarkRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	updated, err := h.service.MarkRead(c.UserContext(), principal.Sender, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"updated": updated}})
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || !principal.Role.Valid() {
		return nil, apperrors.NewUnauthorized("participant required")
	}
	return principal, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

