package webhook

import (
	"net/http"
	"net/url"
	"strings"

	"hostline/internal/repo"
	"hostline/internal/twilio"
	"hostline/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// emptyTwiML acknowledges an inbound message without auto-replying
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Notifier defines the interface for change notifications to open inboxes
type Notifier interface {
	BroadcastPropertyNotification(propertyID string, eventType string, data interface{})
}

// TwilioWebhookHandler handles inbound-message and status-callback
// webhooks from the gateway. The signature check is the only
// authentication on these routes; everything else is public internet.
type TwilioWebhookHandler struct {
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
	properties    *repo.PropertyRepository
	validator     *twilio.Validator
	notifier      Notifier
}

// NewTwilioWebhookHandler creates a new webhook handler
func NewTwilioWebhookHandler(db *gorm.DB, validator *twilio.Validator) *TwilioWebhookHandler {
	return &TwilioWebhookHandler{
		conversations: repo.NewConversationRepository(db),
		messages:      repo.NewMessageRepository(db),
		properties:    repo.NewPropertyRepository(db),
		validator:     validator,
	}
}

// SetNotifier sets the notifier for real-time inbox updates
func (h *TwilioWebhookHandler) SetNotifier(notifier Notifier) {
	h.notifier = notifier
}

// verify reconstructs the external URL and checks the request signature.
// It must run before any side effect; a failure means zero writes.
func (h *TwilioWebhookHandler) verify(c echo.Context) (url.Values, bool) {
	r := c.Request()
	if err := r.ParseForm(); err != nil {
		return nil, false
	}

	signature := r.Header.Get(twilio.SignatureHeader)
	requestURL := twilio.RequestURL(r)

	if !h.validator.Validate(requestURL, r.PostForm, signature) {
		log.Warn().Str("url", requestURL).Msg("Webhook signature verification failed")
		return nil, false
	}

	return r.PostForm, true
}

// HandleInbound processes an inbound guest message
func (h *TwilioWebhookHandler) HandleInbound(c echo.Context) error {
	form, ok := h.verify(c)
	if !ok {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid signature"})
	}

	fromRaw := form.Get("From")
	toRaw := form.Get("To")
	body := form.Get("Body")
	messageSid := form.Get("MessageSid")

	if fromRaw == "" || toRaw == "" || messageSid == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing From, To or MessageSid"})
	}

	channel := models.ChannelSMS
	if strings.HasPrefix(fromRaw, "whatsapp:") || strings.HasPrefix(toRaw, "whatsapp:") {
		channel = models.ChannelWhatsApp
	}

	guestNumber := normalizeNumber(fromRaw)
	serviceNumber := normalizeNumber(toRaw)

	// Unroutable numbers are acknowledged and dropped: a 4xx/5xx here
	// would have the provider retry against a permanently dead mapping.
	routing, err := h.properties.RouteServiceNumber(serviceNumber, channel)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			log.Warn().
				Str("service_number", serviceNumber).
				Str("channel", channel).
				Str("provider_message_id", messageSid).
				Msg("Inbound message for unmapped service number, dropping")
			return c.Blob(http.StatusOK, "text/xml", []byte(emptyTwiML))
		}
		log.Error().Err(err).Msg("Failed to route inbound message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Routing lookup failed"})
	}

	conversation, err := h.conversations.Resolve(models.ConversationKey{
		PropertyID:    routing.PropertyID,
		Channel:       channel,
		Provider:      models.ProviderTwilio,
		GuestNumber:   guestNumber,
		ServiceNumber: serviceNumber,
	}, true)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve conversation")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Conversation resolution failed"})
	}

	message := &models.InboundMessage{
		ConversationID:    conversation.ID,
		FromNumber:        guestNumber,
		ToNumber:          serviceNumber,
		Body:              body,
		ProviderMessageID: messageSid,
		RawPayload:        formToPayload(form),
	}

	created, err := h.messages.CreateInbound(message)
	if err != nil {
		log.Error().Err(err).Str("provider_message_id", messageSid).Msg("Failed to persist inbound message")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Message persistence failed"})
	}

	if !created {
		log.Info().Str("provider_message_id", messageSid).Msg("Duplicate inbound delivery, keeping existing row")
		return c.Blob(http.StatusOK, "text/xml", []byte(emptyTwiML))
	}

	log.Info().
		Str("conversation_id", conversation.ID.String()).
		Str("provider_message_id", messageSid).
		Str("channel", channel).
		Msg("Inbound message ingested")

	// Best effort; must not delay the ack
	if h.notifier != nil {
		h.notifier.BroadcastPropertyNotification(conversation.PropertyID.String(), "inbound_message", map[string]interface{}{
			"conversation_id": conversation.ID.String(),
			"message_id":      message.ID.String(),
			"body":            body,
		})
	}

	return c.Blob(http.StatusOK, "text/xml", []byte(emptyTwiML))
}

// HandleStatusCallback processes an asynchronous delivery status callback.
// The raw payload is always persisted to the audit log, linked to the
// outbound row when the provider message id matches; callbacks for unknown
// ids are kept unlinked, never dropped.
func (h *TwilioWebhookHandler) HandleStatusCallback(c echo.Context) error {
	form, ok := h.verify(c)
	if !ok {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Invalid signature"})
	}

	messageSid := form.Get("MessageSid")
	if messageSid == "" {
		messageSid = form.Get("SmsSid")
	}
	messageStatus := form.Get("MessageStatus")
	if messageStatus == "" {
		messageStatus = form.Get("SmsStatus")
	}
	errorCode := form.Get("ErrorCode")
	errorMessage := form.Get("ErrorMessage")

	event := &models.DeliveryEvent{
		EventType: "status_callback",
		Payload:   formToPayload(form),
	}

	var outbound *models.OutboundMessage
	if messageSid != "" {
		event.ProviderMessageID = &messageSid

		var err error
		outbound, err = h.messages.FindOutboundByProviderID(messageSid)
		if err != nil && err != gorm.ErrRecordNotFound {
			log.Error().Err(err).Str("provider_message_id", messageSid).Msg("Outbound lookup failed")
		}
		if outbound != nil {
			event.OutboundMessageID = &outbound.ID
		}
	}

	if err := h.messages.CreateDeliveryEvent(event); err != nil {
		log.Error().Err(err).Msg("Failed to persist delivery event")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Event persistence failed"})
	}

	if messageSid == "" || messageStatus == "" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	// Callbacks arrive out of order; the latest one wins unconditionally,
	// matching observed provider behavior.
	errText := statusErrorText(messageStatus, errorCode, errorMessage)
	if err := h.messages.ApplyStatus(messageSid, messageStatus, errText); err != nil {
		log.Error().Err(err).Str("provider_message_id", messageSid).Msg("Failed to apply delivery status")
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	log.Info().
		Str("provider_message_id", messageSid).
		Str("message_status", messageStatus).
		Msg("Delivery status applied")

	if h.notifier != nil && outbound != nil {
		if conversation, err := h.conversations.GetByID(outbound.ConversationID); err == nil {
			h.notifier.BroadcastPropertyNotification(conversation.PropertyID.String(), "status_update", map[string]interface{}{
				"conversation_id":     conversation.ID.String(),
				"outbound_id":         outbound.ID.String(),
				"provider_message_id": messageSid,
				"status":              messageStatus,
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// statusErrorText builds the error column value for a callback: populated
// on failed/undelivered, cleared otherwise
func statusErrorText(status, errorCode, errorMessage string) *string {
	if status != models.OutboundFailed && status != models.OutboundUndelivered {
		return nil
	}

	parts := make([]string, 0, 2)
	if errorCode != "" {
		parts = append(parts, errorCode)
	}
	if errorMessage != "" {
		parts = append(parts, errorMessage)
	}

	text := strings.Join(parts, " - ")
	if text == "" {
		text = "Delivery failed/undelivered"
	}
	return &text
}

// normalizeNumber strips the channel prefix so one guest maps to one
// conversation regardless of transport framing
func normalizeNumber(raw string) string {
	return strings.TrimPrefix(raw, "whatsapp:")
}

func formToPayload(form url.Values) models.JSONMap {
	payload := make(models.JSONMap, len(form))
	for key, values := range form {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}
	return payload
}
