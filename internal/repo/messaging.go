package repo

import (
	"hostline/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository handles inbound/outbound message data access
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateInbound inserts an inbound message idempotently on its provider
// message id. Providers redeliver webhooks; a duplicate insert is a no-op
// and the existing row is loaded back into msg. Returns whether a new row
// was written.
func (r *MessageRepository) CreateInbound(msg *models.InboundMessage) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_message_id"}},
		DoNothing: true,
	}).Create(msg)
	if result.Error != nil {
		return false, result.Error
	}

	if result.RowsAffected == 0 {
		// Read into a fresh struct: the no-op insert already stamped a
		// generated id on msg, and gorm would fold that primary key into
		// the lookup's WHERE clause.
		var existing models.InboundMessage
		if err := r.db.Where("provider_message_id = ?", msg.ProviderMessageID).First(&existing).Error; err != nil {
			return false, err
		}
		*msg = existing
		return false, nil
	}

	return true, nil
}

// CreateOutbound inserts a queued outbound row. With an idempotency key the
// insert conflicts against the partial unique index on (conversation_id,
// idempotency_key); on conflict nothing is written and the prior row is
// returned instead. This insert, not the provider call, is the at-most-once
// serialization point.
func (r *MessageRepository) CreateOutbound(msg *models.OutboundMessage) (bool, *models.OutboundMessage, error) {
	if msg.IdempotencyKey == nil {
		if err := r.db.Create(msg).Error; err != nil {
			return false, nil, err
		}
		return true, msg, nil
	}

	result := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "conversation_id"},
			{Name: "idempotency_key"},
		},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("idempotency_key IS NOT NULL"),
		}},
		DoNothing: true,
	}).Create(msg)
	if result.Error != nil {
		return false, nil, result.Error
	}

	if result.RowsAffected == 0 {
		var existing models.OutboundMessage
		err := r.db.Where("conversation_id = ? AND idempotency_key = ?",
			msg.ConversationID, *msg.IdempotencyKey).First(&existing).Error
		if err != nil {
			return false, nil, err
		}
		return false, &existing, nil
	}

	return true, msg, nil
}

// MarkAccepted records the provider message id after the gateway accepted
// the submission. Status stays queued: acceptance is not delivery.
func (r *MessageRepository) MarkAccepted(id uuid.UUID, providerMessageID string) error {
	return r.db.Model(&models.OutboundMessage{}).
		Where("id = ?", id).
		Update("provider_message_id", providerMessageID).Error
}

// MarkFailed records a provider rejection on the outbound row
func (r *MessageRepository) MarkFailed(id uuid.UUID, errText string) error {
	return r.db.Model(&models.OutboundMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": models.OutboundFailed,
			"error":  errText,
		}).Error
}

// FindOutboundByProviderID looks up the outbound row a status callback
// refers to
func (r *MessageRepository) FindOutboundByProviderID(providerMessageID string) (*models.OutboundMessage, error) {
	var msg models.OutboundMessage
	err := r.db.Where("provider_message_id = ?", providerMessageID).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ApplyStatus applies a delivery callback to the matching outbound row.
// Callbacks are not ordered; the latest one wins unconditionally. A nil
// errText clears any previous error.
func (r *MessageRepository) ApplyStatus(providerMessageID, status string, errText *string) error {
	updates := map[string]interface{}{
		"status": status,
		"error":  errText,
	}
	return r.db.Model(&models.OutboundMessage{}).
		Where("provider_message_id = ?", providerMessageID).
		Updates(updates).Error
}

// CreateDeliveryEvent appends one raw callback payload to the audit log
func (r *MessageRepository) CreateDeliveryEvent(event *models.DeliveryEvent) error {
	return r.db.Create(event).Error
}

// ListInboundByConversation lists inbound messages oldest first, ties
// broken by id for a deterministic order
func (r *MessageRepository) ListInboundByConversation(conversationID uuid.UUID) ([]models.InboundMessage, error) {
	var messages []models.InboundMessage
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// ListOutboundByConversation lists outbound messages oldest first, ties
// broken by id
func (r *MessageRepository) ListOutboundByConversation(conversationID uuid.UUID) ([]models.OutboundMessage, error) {
	var messages []models.OutboundMessage
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}
