package app

import (
	"fmt"
	"os"

	"hostline/internal/auth"
	"hostline/internal/repo"
	"hostline/internal/services"
	"hostline/internal/twilio"

	"gorm.io/gorm"
)

// Services holds all application services
type Services struct {
	DB               *gorm.DB
	AuthService      *auth.Service
	UserRepo         *repo.UserRepository
	PropertyRepo     *repo.PropertyRepository
	ConversationRepo *repo.ConversationRepository
	MessageRepo      *repo.MessageRepository
	TwilioValidator  *twilio.Validator
	TwilioClient     *twilio.Client
	Dispatcher       *services.Dispatcher
	ThreadService    *services.ThreadService
}

// NewServices creates a new services container
func NewServices(db *gorm.DB) (*Services, error) {
	userRepo := repo.NewUserRepository(db)
	propertyRepo := repo.NewPropertyRepository(db)
	conversationRepo := repo.NewConversationRepository(db)
	messageRepo := repo.NewMessageRepository(db)

	authService := auth.NewService(userRepo)

	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required")
	}

	var twilioClient *twilio.Client
	if baseURL := os.Getenv("TWILIO_BASE_URL"); baseURL != "" {
		twilioClient = twilio.NewClientWithBaseURL(baseURL, accountSID, authToken)
	} else {
		twilioClient = twilio.NewClient(accountSID, authToken)
	}

	callbackURL := ""
	if publicBase := os.Getenv("PUBLIC_BASE_URL"); publicBase != "" {
		callbackURL = publicBase + "/api/v1/webhook/twilio/status"
	}

	dispatcher := services.NewDispatcher(conversationRepo, messageRepo, twilioClient, callbackURL)
	threadService := services.NewThreadService(conversationRepo, messageRepo)

	return &Services{
		DB:               db,
		AuthService:      authService,
		UserRepo:         userRepo,
		PropertyRepo:     propertyRepo,
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		TwilioValidator:  twilio.NewValidator(authToken),
		TwilioClient:     twilioClient,
		Dispatcher:       dispatcher,
		ThreadService:    threadService,
	}, nil
}
