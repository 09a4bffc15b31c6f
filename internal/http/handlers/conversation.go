package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"hostline/internal/repo"
	"hostline/internal/services"
	"hostline/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ConversationHandler handles the inbox endpoints
type ConversationHandler struct {
	conversations *repo.ConversationRepository
	properties    *repo.PropertyRepository
	threadService *services.ThreadService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(db *gorm.DB, threadService *services.ThreadService) *ConversationHandler {
	return &ConversationHandler{
		conversations: repo.NewConversationRepository(db),
		properties:    repo.NewPropertyRepository(db),
		threadService: threadService,
	}
}

// operatorContext pulls the authenticated operator out of the request context
func operatorContext(c echo.Context) (uuid.UUID, string, bool) {
	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, "", false
	}
	role, _ := c.Get("user_role").(string)
	return userID, role, true
}

// scopedPropertyIDs returns the property ids the operator may see,
// narrowed to a single property when the filter is present
func (h *ConversationHandler) scopedPropertyIDs(c echo.Context, userID uuid.UUID, role string) ([]uuid.UUID, error) {
	var (
		ids []uuid.UUID
		err error
	)
	if role == "admin" {
		ids, err = h.properties.AllPropertyIDs()
	} else {
		ids, err = h.properties.MembershipPropertyIDs(userID)
	}
	if err != nil {
		return nil, err
	}

	filter := c.QueryParam("property_id")
	if filter == "" {
		return ids, nil
	}

	filterID, err := uuid.Parse(filter)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid property_id")
	}
	for _, id := range ids {
		if id == filterID {
			return []uuid.UUID{filterID}, nil
		}
	}
	return []uuid.UUID{}, nil
}

// List returns conversations across the operator's properties, most
// recently active first
func (h *ConversationHandler) List(c echo.Context) error {
	userID, role, ok := operatorContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user context"})
	}

	propertyIDs, err := h.scopedPropertyIDs(c, userID, role)
	if err != nil {
		if httpErr, ok := err.(*echo.HTTPError); ok {
			return httpErr
		}
		log.Error().Err(err).Msg("Failed to resolve property scope")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list conversations"})
	}

	limit := 200
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	status := c.QueryParam("status")

	conversations, err := h.conversations.ListByProperties(propertyIDs, status, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list conversations")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list conversations"})
	}

	views := make([]models.ConversationView, 0, len(conversations))
	for i := range conversations {
		views = append(views, models.ConversationView{
			Conversation: conversations[i],
			Unread:       conversations[i].Unread(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": views,
		"total":         len(views),
	})
}

// loadScoped loads a conversation by path id, enforcing property access
func (h *ConversationHandler) loadScoped(c echo.Context) (*models.Conversation, error) {
	userID, role, ok := operatorContext(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid user context")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid conversation ID")
	}

	conversation, err := h.conversations.GetByID(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Failed to load conversation")
	}

	if role != "admin" {
		allowed, err := h.properties.HasAccess(userID, conversation.PropertyID)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusInternalServerError, "Failed to check property access")
		}
		if !allowed {
			// Hide existence from operators outside the property
			return nil, echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
	}

	return conversation, nil
}

// Get returns a single conversation with its derived unread flag
func (h *ConversationHandler) Get(c echo.Context) error {
	conversation, err := h.loadScoped(c)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.ConversationView{
		Conversation: *conversation,
		Unread:       conversation.Unread(),
	})
}

// GetThread returns the assembled message timeline for a conversation
func (h *ConversationHandler) GetThread(c echo.Context) error {
	conversation, err := h.loadScoped(c)
	if err != nil {
		return err
	}

	entries, err := h.threadService.AssembleByConversation(conversation.ID, conversation.PropertyID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversation.ID.String()).Msg("Failed to assemble thread")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to assemble thread"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": models.ConversationView{Conversation: *conversation, Unread: conversation.Unread()},
		"thread":       entries,
	})
}

// MarkRead records that the operator has seen the conversation
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	conversation, err := h.loadScoped(c)
	if err != nil {
		return err
	}

	if err := h.conversations.MarkRead(conversation.ID, conversation.PropertyID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to mark conversation read"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// UpdateStateRequest carries mutable conversation fields
type UpdateStateRequest struct {
	Status     *string    `json:"status" validate:"omitempty,oneof=open closed"`
	Priority   *string    `json:"priority" validate:"omitempty,oneof=low normal high"`
	AssignedTo *uuid.UUID `json:"assigned_to"`
}

// UpdateState changes conversation status, priority or assignment
func (h *ConversationHandler) UpdateState(c echo.Context) error {
	conversation, err := h.loadScoped(c)
	if err != nil {
		return err
	}

	var req UpdateStateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	updates := map[string]interface{}{}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.AssignedTo != nil {
		updates["assigned_to"] = *req.AssignedTo
	}
	if len(updates) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No fields to update"})
	}

	updated, err := h.conversations.UpdateState(conversation.ID, conversation.PropertyID, updates)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update conversation"})
	}

	return c.JSON(http.StatusOK, models.ConversationView{
		Conversation: *updated,
		Unread:       updated.Unread(),
	})
}

// CreateRequest starts an operator-initiated conversation with a guest
type CreateRequest struct {
	PropertyID  uuid.UUID `json:"property_id" validate:"required"`
	Channel     string    `json:"channel" validate:"required,oneof=sms whatsapp"`
	GuestNumber string    `json:"guest_number" validate:"required"`
}

// Create resolves a conversation for an outbound-initiated contact. The
// identity upsert makes this idempotent: contacting a guest who already
// has a conversation returns the existing one.
func (h *ConversationHandler) Create(c echo.Context) error {
	userID, role, ok := operatorContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user context"})
	}

	var req CreateRequest
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
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Property not found"})
		}
	}

	number, err := h.properties.ActiveNumberForProperty(req.PropertyID, req.Channel)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Property has no active number for channel"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to resolve service number"})
	}

	guestNumber := strings.TrimPrefix(strings.TrimSpace(req.GuestNumber), "whatsapp:")
	if guestNumber == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid guest number"})
	}

	conversation, err := h.conversations.Resolve(models.ConversationKey{
		PropertyID:    req.PropertyID,
		Channel:       req.Channel,
		Provider:      models.ProviderTwilio,
		GuestNumber:   guestNumber,
		ServiceNumber: number.PhoneNumber,
	}, false)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve conversation")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create conversation"})
	}

	return c.JSON(http.StatusCreated, models.ConversationView{
		Conversation: *conversation,
		Unread:       conversation.Unread(),
	})
}
