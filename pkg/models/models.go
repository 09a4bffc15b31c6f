package models

// GetAllModels returns all models for GORM AutoMigrate
func GetAllModels() []interface{} {
	return []interface{}{
		// Accounts
		&User{},
		&PropertyMembership{},

		// Routing
		&Property{},
		&PropertyNumber{},

		// Messaging
		&Conversation{},
		&InboundMessage{},
		&OutboundMessage{},
		&DeliveryEvent{},
	}
}
