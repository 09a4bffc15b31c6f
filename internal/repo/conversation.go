package repo

import (
	"time"

	"hostline/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository handles conversation data access
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Resolve maps an identity key to its single conversation, creating one
// when absent. The write is a single upsert against the identity unique
// index, so two near-simultaneous events for the same guest cannot create
// two rows. An existing conversation is reopened; inbound resolves also
// bump last_inbound_at.
func (r *ConversationRepository) Resolve(key models.ConversationKey, inbound bool) (*models.Conversation, error) {
	now := time.Now()

	conversation := models.Conversation{
		PropertyID:    key.PropertyID,
		Channel:       key.Channel,
		Provider:      key.Provider,
		GuestNumber:   key.GuestNumber,
		ServiceNumber: key.ServiceNumber,
		Status:        models.ConversationOpen,
		Priority:      "normal",
		LastMessageAt: &now,
	}

	assignments := map[string]interface{}{
		"status":          models.ConversationOpen,
		"last_message_at": now,
		"updated_at":      now,
	}
	if inbound {
		conversation.LastInboundAt = &now
		assignments["last_inbound_at"] = now
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "property_id"},
			{Name: "channel"},
			{Name: "provider"},
			{Name: "guest_number"},
			{Name: "service_number"},
		},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&conversation).Error
	if err != nil {
		return nil, err
	}

	return r.getByKey(key)
}

func (r *ConversationRepository) getByKey(key models.ConversationKey) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.Where(
		"property_id = ? AND channel = ? AND provider = ? AND guest_number = ? AND service_number = ?",
		key.PropertyID, key.Channel, key.Provider, key.GuestNumber, key.ServiceNumber,
	).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetByID gets a conversation by ID
func (r *ConversationRepository) GetByID(id uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.Where("id = ?", id).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetByIDAndProperty gets a conversation scoped to one property.
// Callers outside the property see NotFound, never the row.
func (r *ConversationRepository) GetByIDAndProperty(id, propertyID uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.Where("id = ? AND property_id = ?", id, propertyID).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// ListByProperties lists conversations for the given properties, newest
// activity first. status filters unless empty or "all".
func (r *ConversationRepository) ListByProperties(propertyIDs []uuid.UUID, status string, limit int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := r.db.Where("property_id IN ?", propertyIDs).
		Order("updated_at DESC").
		Limit(limit)

	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}

	var conversations []models.Conversation
	err := query.Find(&conversations).Error
	return conversations, err
}

// MarkRead sets last_read_at to now, property scoped
func (r *ConversationRepository) MarkRead(id, propertyID uuid.UUID) error {
	result := r.db.Model(&models.Conversation{}).
		Where("id = ? AND property_id = ?", id, propertyID).
		Update("last_read_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// BumpOutbound records outbound activity on a conversation after a
// successful provider send
func (r *ConversationRepository) BumpOutbound(id uuid.UUID, at time.Time) error {
	return r.db.Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"updated_at":       at,
			"last_message_at":  at,
			"last_outbound_at": at,
		}).Error
}

// UpdateState mutates operator-managed fields (status, priority, assignee),
// property scoped. Conversations close rather than delete.
func (r *ConversationRepository) UpdateState(id, propertyID uuid.UUID, updates map[string]interface{}) (*models.Conversation, error) {
	result := r.db.Model(&models.Conversation{}).
		Where("id = ? AND property_id = ?", id, propertyID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByIDAndProperty(id, propertyID)
}
