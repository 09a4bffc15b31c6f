package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hostline/internal/repo"
	"hostline/internal/twilio"
	"hostline/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ProviderClient is the slice of the gateway client the dispatcher needs
type ProviderClient interface {
	SendMessage(ctx context.Context, params twilio.SendParams) (*twilio.Message, error)
}

// Notifier pushes change notifications to connected inbox clients
type Notifier interface {
	BroadcastPropertyNotification(propertyID string, eventType string, data interface{})
}

// Dispatcher sends operator messages through the gateway with at-most-once
// semantics per idempotency key
type Dispatcher struct {
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
	provider      ProviderClient
	callbackURL   string
	notifier      Notifier
}

// NewDispatcher creates a dispatcher. callbackURL is the absolute URL the
// provider posts status callbacks to.
func NewDispatcher(conversations *repo.ConversationRepository, messages *repo.MessageRepository, provider ProviderClient, callbackURL string) *Dispatcher {
	return &Dispatcher{
		conversations: conversations,
		messages:      messages,
		provider:      provider,
		callbackURL:   callbackURL,
	}
}

// SetNotifier sets the optional change-notification sink
func (d *Dispatcher) SetNotifier(notifier Notifier) {
	d.notifier = notifier
}

// Send dispatches one message on a conversation. The returned bool is true
// when the idempotency key was already satisfied and the prior row is
// returned instead of sending again.
//
// The queued row is inserted before the provider call, so a crash between
// the two leaves a queued row and no duplicate send on retry with the same
// key.
func (d *Dispatcher) Send(ctx context.Context, propertyID, conversationID uuid.UUID, body string, idempotencyKey *string) (*models.OutboundMessage, bool, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false, fmt.Errorf("%w: body is required", ErrValidation)
	}

	conversation, err := d.conversations.GetByIDAndProperty(conversationID, propertyID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	if conversation.GuestNumber == "" || conversation.ServiceNumber == "" {
		return nil, false, fmt.Errorf("%w: conversation missing routing numbers", ErrValidation)
	}

	outbound := &models.OutboundMessage{
		ConversationID: conversation.ID,
		ToNumber:       conversation.GuestNumber,
		FromNumber:     conversation.ServiceNumber,
		Body:           body,
		Status:         models.OutboundQueued,
		IdempotencyKey: idempotencyKey,
	}

	created, row, err := d.messages.CreateOutbound(outbound)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create outbound message: %w", err)
	}
	if !created {
		log.Info().
			Str("conversation_id", conversation.ID.String()).
			Str("outbound_id", row.ID.String()).
			Msg("Idempotency key already satisfied, returning prior send")
		return row, true, nil
	}

	message, err := d.provider.SendMessage(ctx, twilio.SendParams{
		From:           dialable(conversation.ServiceNumber, conversation.Channel),
		To:             dialable(conversation.GuestNumber, conversation.Channel),
		Body:           body,
		StatusCallback: d.callbackURL,
	})
	if err != nil {
		errText := err.Error()
		if markErr := d.messages.MarkFailed(row.ID, errText); markErr != nil {
			log.Error().Err(markErr).Str("outbound_id", row.ID.String()).Msg("Failed to record provider failure")
		}
		row.Status = models.OutboundFailed
		row.Error = &errText
		return row, false, &ProviderError{Err: err}
	}

	if err := d.messages.MarkAccepted(row.ID, message.SID); err != nil {
		log.Error().Err(err).Str("outbound_id", row.ID.String()).Msg("Failed to record provider message id")
	}
	row.ProviderMessageID = &message.SID

	now := time.Now()
	if err := d.conversations.BumpOutbound(conversation.ID, now); err != nil {
		log.Error().Err(err).Str("conversation_id", conversation.ID.String()).Msg("Failed to update conversation timestamps")
	}

	if d.notifier != nil {
		d.notifier.BroadcastPropertyNotification(conversation.PropertyID.String(), "outbound_message", map[string]interface{}{
			"conversation_id":     conversation.ID.String(),
			"outbound_id":         row.ID.String(),
			"provider_message_id": message.SID,
			"status":              row.Status,
		})
	}

	return row, false, nil
}

// dialable renders a stored number the way the gateway addresses it on
// this channel. Numbers are stored bare; whatsapp traffic carries a prefix.
func dialable(number, channel string) string {
	if channel == models.ChannelWhatsApp {
		return "whatsapp:" + number
	}
	return number
}
