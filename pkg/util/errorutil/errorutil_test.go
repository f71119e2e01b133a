package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestToDomainErrorKeepsDomainErrors(t *testing.T) {
	wrapped := fmt.Errorf("open chat: %w", NewForbidden("not a participant"))

	de := ToDomainError(wrapped)
	assert.Equal(t, "FORBIDDEN", de.Code)
	assert.Equal(t, http.StatusForbidden, de.HTTPStatus)
	assert.True(t, IsCode(wrapped, "FORBIDDEN"))
}

func TestToDomainErrorMapsFiberErrors(t *testing.T) {
	de := ToDomainError(fiber.NewError(http.StatusNotFound, "Cannot GET /nope"))
	assert.Equal(t, "NOT_FOUND", de.Code)
	assert.Equal(t, http.StatusNotFound, de.HTTPStatus)

	de = ToDomainError(fiber.NewError(http.StatusTeapot, "teapot"))
	assert.Equal(t, "REQUEST_FAILED", de.Code)
}

func TestToDomainErrorHidesUnknownErrors(t *testing.T) {
	cause := errors.New("connection reset")
	de := ToDomainError(cause)
	assert.Equal(t, "INTERNAL_ERROR", de.Code)
	assert.Equal(t, "internal server error", de.Message)
	assert.ErrorIs(t, de, cause)

	assert.Nil(t, ToDomainError(nil))
	assert.NoError(t, MapError(nil))
}

func TestNotFoundDetails(t *testing.T) {
	err := NewNotFound("chat", map[string]any{"chat_id": "c1"})
	de := ToDomainError(err)
	assert.Equal(t, "chat not found", de.Message)
	assert.Equal(t, "c1", de.Details["chat_id"])
}
