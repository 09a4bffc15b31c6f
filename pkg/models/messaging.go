package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel values supported by the service
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// ProviderTwilio is the only wired messaging gateway
const ProviderTwilio = "twilio"

// Conversation statuses
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Outbound message statuses as reported by the gateway
const (
	OutboundQueued      = "queued"
	OutboundSent        = "sent"
	OutboundDelivered   = "delivered"
	OutboundFailed      = "failed"
	OutboundUndelivered = "undelivered"
)

// Property represents a managed property whose guests we message
type Property struct {
	BaseModel
	Name     string `gorm:"not null" json:"name" validate:"required"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

// PropertyNumber maps a provisioned service number to a property.
// Inbound routing resolves the To number against this table.
type PropertyNumber struct {
	BaseModel
	PropertyID  uuid.UUID `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"property_id"`
	PhoneNumber string    `gorm:"not null;uniqueIndex:idx_property_numbers_number_channel" json:"phone_number" validate:"required"`
	Channel     string    `gorm:"not null;default:'sms';uniqueIndex:idx_property_numbers_number_channel" json:"channel"`
	Provider    string    `gorm:"not null;default:'twilio'" json:"provider"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`

	// Relations
	Property *Property `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
}

// ConversationKey is the identity tuple that deduplicates conversations.
// At most one conversation exists per key; re-contact reopens it.
type ConversationKey struct {
	PropertyID    uuid.UUID
	Channel       string
	Provider      string
	GuestNumber   string
	ServiceNumber string
}

// Conversation represents a persistent thread between one guest number
// and one service number on one channel
type Conversation struct {
	BaseModel
	PropertyID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_identity;constraint:OnDelete:RESTRICT" json:"property_id"`
	Channel        string     `gorm:"not null;uniqueIndex:idx_conversations_identity" json:"channel"`
	Provider       string     `gorm:"not null;uniqueIndex:idx_conversations_identity" json:"provider"`
	GuestNumber    string     `gorm:"not null;uniqueIndex:idx_conversations_identity" json:"guest_number"`
	ServiceNumber  string     `gorm:"not null;uniqueIndex:idx_conversations_identity" json:"service_number"`
	Status         string     `gorm:"default:'open'" json:"status"` // open, closed
	Priority       string     `gorm:"default:'normal'" json:"priority"`
	AssignedTo     *uuid.UUID `gorm:"type:uuid;constraint:OnDelete:SET NULL" json:"assigned_to"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	LastInboundAt  *time.Time `json:"last_inbound_at"`
	LastOutboundAt *time.Time `json:"last_outbound_at"`
	LastReadAt     *time.Time `json:"last_read_at"`

	// Relations
	Property *Property `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
	Assignee *User     `gorm:"foreignKey:AssignedTo" json:"assignee,omitempty"`
}

// Unread reports whether the conversation has inbound activity the
// operator has not seen yet. Derived, never stored.
func (c *Conversation) Unread() bool {
	if c.LastInboundAt == nil {
		return false
	}
	return c.LastReadAt == nil || c.LastInboundAt.After(*c.LastReadAt)
}

// ConversationView is a Conversation with its derived unread flag,
// returned by the list and detail endpoints
type ConversationView struct {
	Conversation
	Unread bool `json:"unread"`
}

// InboundMessage is an immutable record of one guest message delivered
// by the provider webhook. Exactly one row exists per provider message id.
type InboundMessage struct {
	AppendOnlyModel
	ConversationID    uuid.UUID `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"conversation_id"`
	FromNumber        string    `gorm:"not null" json:"from_number"`
	ToNumber          string    `gorm:"not null" json:"to_number"`
	Body              string    `gorm:"type:text" json:"body"`
	ProviderMessageID string    `gorm:"not null;uniqueIndex:idx_inbound_provider_message_id" json:"provider_message_id"`
	RawPayload        JSONMap   `gorm:"type:jsonb" json:"raw_payload,omitempty"`
}

// OutboundMessage is one send attempt toward a guest. Created before the
// provider call so local durability precedes the network; mutated by the
// dispatcher on acceptance/failure and by the reconciler on callbacks.
type OutboundMessage struct {
	BaseModel
	ConversationID    uuid.UUID `gorm:"type:uuid;not null;index;constraint:OnDelete:RESTRICT" json:"conversation_id"`
	ToNumber          string    `gorm:"not null" json:"to_number"`
	FromNumber        string    `gorm:"not null" json:"from_number"`
	Body              string    `gorm:"type:text;not null" json:"body"`
	Status            string    `gorm:"not null;default:'queued'" json:"status"` // queued, sent, delivered, failed, undelivered
	Error             *string   `gorm:"type:text" json:"error"`
	ProviderMessageID *string   `gorm:"index" json:"provider_message_id"`
	IdempotencyKey    *string   `json:"idempotency_key,omitempty"`
}

// DeliveryEvent is the audit log of one raw status-callback payload.
// Stored even when no outbound row matches, never mutated.
type DeliveryEvent struct {
	AppendOnlyModel
	EventType         string     `gorm:"not null;default:'status_callback'" json:"event_type"`
	ProviderMessageID *string    `gorm:"index" json:"provider_message_id"`
	OutboundMessageID *uuid.UUID `gorm:"type:uuid;index" json:"outbound_message_id"`
	Payload           JSONMap    `gorm:"type:jsonb" json:"payload"`
}

// ThreadEntry is one visible item in an assembled conversation timeline.
// Kind selects the variant; outbound-only fields are omitted for inbound.
type ThreadEntry struct {
	Kind      string    `json:"kind"` // inbound, outbound
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Body      string    `json:"body"`

	// Outbound variant only
	Status        string            `json:"status,omitempty"`
	Error         *string           `json:"error,omitempty"`
	OlderAttempts []OutboundAttempt `json:"older_attempts,omitempty"`
}

// ThreadEntry kinds
const (
	ThreadEntryInbound  = "inbound"
	ThreadEntryOutbound = "outbound"
)

// OutboundAttempt is a superseded send attempt retained under the latest
// entry of its collapse group
type OutboundAttempt struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Error     *string   `json:"error,omitempty"`
}

// JSONMap stores an arbitrary JSON object in a jsonb column
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONB
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, m)
}
