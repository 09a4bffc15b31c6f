package handlers

import (
	"errors"
	"net/http"

	"hostline/internal/repo"
	"hostline/internal/services"
	"hostline/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MessagingHandler handles outbound message sends
type MessagingHandler struct {
	dispatcher    *services.Dispatcher
	conversations *repo.ConversationRepository
	properties    *repo.PropertyRepository
}

// NewMessagingHandler creates a new messaging handler
func NewMessagingHandler(db *gorm.DB, dispatcher *services.Dispatcher) *MessagingHandler {
	return &MessagingHandler{
		dispatcher:    dispatcher,
		conversations: repo.NewConversationRepository(db),
		properties:    repo.NewPropertyRepository(db),
	}
}

// SendMessageRequest carries an outbound reply body
type SendMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

// SendDirectRequest addresses a send by explicit conversation and property
type SendDirectRequest struct {
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
	PropertyID     uuid.UUID `json:"property_id" validate:"required"`
	Body           string    `json:"body" validate:"required"`
}

// SendDirect dispatches a reply addressed by body fields instead of the
// conversation path. Same pipeline and idempotency header as Send.
func (h *MessagingHandler) SendDirect(c echo.Context) error {
	userID, role, ok := operatorContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user context"})
	}

	var req SendDirectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if role != "admin" {
		allowed, err := h.properties.HasAccess(userID, req.PropertyID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to check property access"})
		}
		if !allowed {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		}
	}

	var idempotencyKey *string
	if key := c.Request().Header.Get("X-Idempotency-Key"); key != "" {
		idempotencyKey = &key
	}

	message, replayed, err := h.dispatcher.Send(c.Request().Context(), req.PropertyID, req.ConversationID, req.Body, idempotencyKey)
	if err != nil {
		return h.sendError(c, err, message, req.ConversationID)
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	return c.JSON(status, message)
}

// sendError maps dispatcher failures onto HTTP responses
func (h *MessagingHandler) sendError(c echo.Context, err error, message *models.OutboundMessage, conversationID uuid.UUID) error {
	var providerErr *services.ProviderError
	switch {
	case errors.Is(err, services.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
	case errors.As(err, &providerErr):
		// The failed attempt row is already persisted
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":   "Provider rejected the message",
			"message": message,
		})
	default:
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("Failed to send message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to send message"})
	}
}

// Send dispatches an operator reply into a conversation. Clients may pass
// an X-Idempotency-Key header; retries with the same key return the
// original attempt instead of sending twice.
func (h *MessagingHandler) Send(c echo.Context) error {
	userID, role, ok := operatorContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user context"})
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid conversation ID"})
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	conversation, err := h.conversations.GetByID(conversationID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load conversation"})
	}

	if role != "admin" {
		allowed, err := h.properties.HasAccess(userID, conversation.PropertyID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to check property access"})
		}
		if !allowed {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		}
	}

	var idempotencyKey *string
	if key := c.Request().Header.Get("X-Idempotency-Key"); key != "" {
		idempotencyKey = &key
	}

	message, replayed, err := h.dispatcher.Send(c.Request().Context(), conversation.PropertyID, conversationID, req.Body, idempotencyKey)
	if err != nil {
		return h.sendError(c, err, message, conversationID)
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	return c.JSON(status, message)
}
