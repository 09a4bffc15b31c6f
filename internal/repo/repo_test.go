package repo

import (
	"fmt"
	"sync/atomic"
	"testing"

	"hostline/pkg/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int64

// newTestDB opens an isolated in-memory database with the full schema,
// including the partial unique index the outbound idempotency path
// conflicts against.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repotest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbound_conversation_idempotency
		 ON outbound_messages(conversation_id, idempotency_key)
		 WHERE idempotency_key IS NOT NULL`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to create index: %v", err)
		}
	}

	return db
}

func seedProperty(t *testing.T, db *gorm.DB, name string) *models.Property {
	t.Helper()

	property := &models.Property{Name: name, IsActive: true}
	if err := db.Create(property).Error; err != nil {
		t.Fatalf("failed to seed property: %v", err)
	}
	return property
}

func seedNumber(t *testing.T, db *gorm.DB, propertyID uuid.UUID, phoneNumber, channel string, active bool) *models.PropertyNumber {
	t.Helper()

	number := &models.PropertyNumber{
		PropertyID:  propertyID,
		PhoneNumber: phoneNumber,
		Channel:     channel,
		Provider:    models.ProviderTwilio,
		IsActive:    active,
	}
	if err := db.Create(number).Error; err != nil {
		t.Fatalf("failed to seed property number: %v", err)
	}
	return number
}

func seedConversation(t *testing.T, db *gorm.DB, propertyID uuid.UUID, guestNumber string) *models.Conversation {
	t.Helper()

	conversation, err := NewConversationRepository(db).Resolve(models.ConversationKey{
		PropertyID:    propertyID,
		Channel:       models.ChannelSMS,
		Provider:      models.ProviderTwilio,
		GuestNumber:   guestNumber,
		ServiceNumber: "+15559990000",
	}, true)
	if err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	return conversation
}
