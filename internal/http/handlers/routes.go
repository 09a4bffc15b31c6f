package handlers

import (
	"hostline/internal/app"
	"hostline/internal/http/middleware"
	"hostline/internal/webhook"

	"github.com/labstack/echo/v4"
)

// SetupRoutes sets up all API routes
func SetupRoutes(api *echo.Group, services *app.Services) {
	wsHandler := NewWebSocketHandler(services.DB, services.AuthService)
	services.Dispatcher.SetNotifier(wsHandler)

	// Auth routes (no authentication required)
	authHandler := NewAuthHandler(services.AuthService)
	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.RefreshToken)

	// Webhooks (public, authenticated by request signature)
	twilioWebhookHandler := webhook.NewTwilioWebhookHandler(services.DB, services.TwilioValidator)
	twilioWebhookHandler.SetNotifier(wsHandler)
	webhooks := api.Group("/webhook")
	webhooks.POST("/twilio/inbound", twilioWebhookHandler.HandleInbound)
	webhooks.POST("/twilio/status", twilioWebhookHandler.HandleStatusCallback)

	// WebSocket endpoint (handles authentication manually via query parameter)
	api.GET("/ws", wsHandler.HandleWebSocket)

	// Protected routes (require authentication)
	protected := api.Group("")
	protected.Use(middleware.JWTAuth(services.AuthService))
	protected.Use(middleware.AgentOrAbove())

	protected.GET("/auth/me", authHandler.Me)
	protected.GET("/ws/stats", wsHandler.Stats)

	propertyHandler := NewPropertyHandler(services.DB)
	protected.GET("/properties", propertyHandler.List)

	threadService := services.ThreadService
	conversationHandler := NewConversationHandler(services.DB, threadService)
	conversations := protected.Group("/conversations")
	conversations.GET("", conversationHandler.List)
	conversations.POST("", conversationHandler.Create)
	conversations.GET("/:id", conversationHandler.Get)
	conversations.PATCH("/:id", conversationHandler.UpdateState)
	conversations.GET("/:id/thread", conversationHandler.GetThread)
	conversations.POST("/:id/read", conversationHandler.MarkRead)

	messagingHandler := NewMessagingHandler(services.DB, services.Dispatcher)
	conversations.POST("/:id/messages", messagingHandler.Send)
	protected.POST("/messages/send", messagingHandler.SendDirect)
}
