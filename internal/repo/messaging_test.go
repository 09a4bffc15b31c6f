package repo

import (
	"testing"

	"hostline/pkg/models"
)

func TestCreateInboundIdempotent(t *testing.T) {
	db := newTestDB(t)
	property := seedProperty(t, db, "Seaside Villa")
	conversation := seedConversation(t, db, property.ID, "+15550001111")
	r := NewMessageRepository(db)

	first := &models.InboundMessage{
		ConversationID:    conversation.ID,
		FromNumber:        "+15550001111",
		ToNumber:          "+15559990000",
		Body:              "is early checkin possible?",
		ProviderMessageID: "SM-dup",
	}
	created, err := r.CreateInbound(first)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if !created {
		t.Fatal("first insert should create a row")
	}

	redelivery := &models.InboundMessage{
		ConversationID:    conversation.ID,
		FromNumber:        "+15550001111",
		ToNumber:          "+15559990000",
		Body:              "is early checkin possible?",
		ProviderMessageID: "SM-dup",
	}
	created, err = r.CreateInbound(redelivery)
	if err != nil {
		t.Fatalf("redelivery insert failed: %v", err)
	}
	if created {
		t.Error("redelivery should not create a second row")
	}
	if redelivery.ID != first.ID {
		t.Error("redelivery should load the existing row back")
	}

	var count int64
	db.Model(&models.InboundMessage{}).Count(&count)
	if count != 1 {
		t.Errorf("got %d inbound rows, want 1", count)
	}
}

func TestCreateOutboundIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	property := seedProperty(t, db, "Seaside Villa")
	conversation := seedConversation(t, db, property.ID, "+15550001111")
	r := NewMessageRepository(db)

	key := "client-key-1"
	first := &models.OutboundMessage{
		ConversationID: conversation.ID,
		ToNumber:       "+15550001111",
		FromNumber:     "+15559990000",
		Body:           "door code is 4321",
		Status:         models.OutboundQueued,
		IdempotencyKey: &key,
	}
	created, row, err := r.CreateOutbound(first)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if !created {
		t.Fatal("first insert should create a row")
	}

	retryKey := "client-key-1"
	retry := &models.OutboundMessage{
		ConversationID: conversation.ID,
		ToNumber:       "+15550001111",
		FromNumber:     "+15559990000",
		Body:           "door code is 4321",
		Status:         models.OutboundQueued,
		IdempotencyKey: &retryKey,
	}
	created, replay, err := r.CreateOutbound(retry)
	if err != nil {
		t.Fatalf("retry insert failed: %v", err)
	}
	if created {
		t.Error("retry with same key should not create a row")
	}
	if replay.ID != row.ID {
		t.Error("retry should return the prior row")
	}

	otherKey := "client-key-2"
	other := &models.OutboundMessage{
		ConversationID: conversation.ID,
		ToNumber:       "+15550001111",
		FromNumber:     "+15559990000",
		Body:           "door code is 4321",
		Status:         models.OutboundQueued,
		IdempotencyKey: &otherKey,
	}
	created, _, err = r.CreateOutbound(other)
	if err != nil {
		t.Fatalf("distinct key insert failed: %v", err)
	}
	if !created {
		t.Error("distinct key should create a new row")
	}

	var count int64
	db.Model(&models.OutboundMessage{}).Count(&count)
	if count != 2 {
		t.Errorf("got %d outbound rows, want 2", count)
	}
}

func TestCreateOutboundNilKeysNeverConflict(t *testing.T) {
	db := newTestDB(t)
	property := seedProperty(t, db, "Seaside Villa")
	conversation := seedConversation(t, db, property.ID, "+15550001111")
	r := NewMessageRepository(db)

	for i := 0; i < 2; i++ {
		msg := &models.OutboundMessage{
			ConversationID: conversation.ID,
			ToNumber:       "+15550001111",
			FromNumber:     "+15559990000",
			Body:           "same text",
			Status:         models.OutboundQueued,
		}
		created, _, err := r.CreateOutbound(msg)
		if err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		if !created {
			t.Errorf("insert %d without a key should always create", i)
		}
	}

	var count int64
	db.Model(&models.OutboundMessage{}).Count(&count)
	if count != 2 {
		t.Errorf("got %d outbound rows, want 2", count)
	}
}

func TestApplyStatusLatestWins(t *testing.T) {
	db := newTestDB(t)
	property := seedProperty(t, db, "Seaside Villa")
	conversation := seedConversation(t, db, property.ID, "+15550001111")
	r := NewMessageRepository(db)

	msg := &models.OutboundMessage{
		ConversationID: conversation.ID,
		ToNumber:       "+15550001111",
		FromNumber:     "+15559990000",
		Body:           "hello",
		Status:         models.OutboundQueued,
	}
	if _, _, err := r.CreateOutbound(msg); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := r.MarkAccepted(msg.ID, "SM-accepted"); err != nil {
		t.Fatalf("mark accepted failed: %v", err)
	}

	accepted, err := r.FindOutboundByProviderID("SM-accepted")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if accepted.Status != models.OutboundQueued {
		t.Errorf("status after acceptance = %q, want queued", accepted.Status)
	}

	errText := "30007 - Message filtered"
	if err := r.ApplyStatus("SM-accepted", models.OutboundUndelivered, &errText); err != nil {
		t.Fatalf("apply failed status: %v", err)
	}
	row, _ := r.FindOutboundByProviderID("SM-accepted")
	if row.Status != models.OutboundUndelivered || row.Error == nil || *row.Error != errText {
		t.Errorf("undelivered callback not applied: %+v", row)
	}

	// A later delivered callback overrides and clears the error
	if err := r.ApplyStatus("SM-accepted", models.OutboundDelivered, nil); err != nil {
		t.Fatalf("apply delivered status: %v", err)
	}
	row, _ = r.FindOutboundByProviderID("SM-accepted")
	if row.Status != models.OutboundDelivered {
		t.Errorf("status = %q, want delivered", row.Status)
	}
	if row.Error != nil {
		t.Errorf("error should be cleared, got %q", *row.Error)
	}
}

func TestCreateDeliveryEventUnlinked(t *testing.T) {
	db := newTestDB(t)
	r := NewMessageRepository(db)

	sid := "SM-unknown"
	event := &models.DeliveryEvent{
		EventType:         "status_callback",
		ProviderMessageID: &sid,
		Payload:           models.JSONMap{"MessageStatus": "delivered"},
	}
	if err := r.CreateDeliveryEvent(event); err != nil {
		t.Fatalf("unlinked event insert failed: %v", err)
	}
	if event.OutboundMessageID != nil {
		t.Error("event should stay unlinked")
	}

	var count int64
	db.Model(&models.DeliveryEvent{}).Count(&count)
	if count != 1 {
		t.Errorf("got %d delivery events, want 1", count)
	}
}

func TestListByConversationOrdering(t *testing.T) {
	db := newTestDB(t)
	property := seedProperty(t, db, "Seaside Villa")
	conversation := seedConversation(t, db, property.ID, "+15550001111")
	r := NewMessageRepository(db)

	sids := []string{"SM-1", "SM-2", "SM-3"}
	for _, sid := range sids {
		msg := &models.InboundMessage{
			ConversationID:    conversation.ID,
			FromNumber:        "+15550001111",
			ToNumber:          "+15559990000",
			Body:              sid,
			ProviderMessageID: sid,
		}
		if _, err := r.CreateInbound(msg); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	rows, err := r.ListInboundByConversation(conversation.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAt.Before(rows[i-1].CreatedAt) {
			t.Error("inbound rows must be ordered oldest first")
		}
	}
}
