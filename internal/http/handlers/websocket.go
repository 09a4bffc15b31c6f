package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"hostline/internal/auth"
	"hostline/internal/repo"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// WebSocketMessage represents a message sent through WebSocket
type WebSocketMessage struct {
	Type       string      `json:"type"`
	Data       interface{} `json:"data"`
	Timestamp  time.Time   `json:"timestamp"`
	PropertyID string      `json:"property_id,omitempty"`
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	conn       *websocket.Conn
	userID     string
	admin      bool
	properties map[string]bool
	send       chan WebSocketMessage
	hub        *WebSocketHub
}

// allowed reports whether the client may receive events for a property
func (c *WebSocketClient) allowed(propertyID string) bool {
	if propertyID == "" || c.admin {
		return true
	}
	return c.properties[propertyID]
}

// WebSocketHub manages all WebSocket connections
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	mu         sync.RWMutex
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *WebSocketHub
	authService *auth.Service
	properties  *repo.PropertyRepository
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(db *gorm.DB, authService *auth.Service) *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan WebSocketMessage),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
	}

	go hub.run()
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
		properties:  repo.NewPropertyRepository(db),
	}
}

// Upgrader configures the websocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, check against allowed origins
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HandleWebSocket handles WebSocket connection upgrades. Browsers cannot
// set an Authorization header on the upgrade request, so the token comes
// in as a query parameter.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization token")
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token: "+err.Error())
	}

	properties := make(map[string]bool)
	if claims.Role != "admin" {
		ids, err := h.properties.MembershipPropertyIDs(claims.UserID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load property memberships")
		}
		for _, id := range ids {
			properties[id.String()] = true
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return err
	}

	client := &WebSocketClient{
		conn:       conn,
		userID:     claims.UserID.String(),
		admin:      claims.Role == "admin",
		properties: properties,
		send:       make(chan WebSocketMessage, 256),
		hub:        h.hub,
	}

	h.hub.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}

// BroadcastToProperty broadcasts a message to all clients with access to a property
func (h *WebSocketHandler) BroadcastToProperty(propertyID string, messageType string, data interface{}) {
	message := WebSocketMessage{
		Type:       messageType,
		Data:       data,
		Timestamp:  time.Now(),
		PropertyID: propertyID,
	}

	h.hub.broadcast <- message
}

// BroadcastPropertyNotification sends an inbox change notification to connected clients
func (h *WebSocketHandler) BroadcastPropertyNotification(propertyID string, eventType string, data interface{}) {
	notification := map[string]interface{}{
		"event_type": eventType,
		"data":       data,
		"timestamp":  time.Now(),
	}

	h.BroadcastToProperty(propertyID, "inbox_notification", notification)
}

// run manages the WebSocket hub
func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.mu.Lock()
			hub.clients[client] = true
			hub.mu.Unlock()
			log.Info().Str("user_id", client.userID).Msg("WebSocket client connected")

			welcome := WebSocketMessage{
				Type:      "connection",
				Data:      map[string]string{"status": "connected"},
				Timestamp: time.Now(),
			}
			select {
			case client.send <- welcome:
			default:
				close(client.send)
				delete(hub.clients, client)
			}

		case client := <-hub.unregister:
			hub.mu.Lock()
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				close(client.send)
				log.Info().Str("user_id", client.userID).Msg("WebSocket client disconnected")
			}
			hub.mu.Unlock()

		case message := <-hub.broadcast:
			hub.mu.RLock()
			for client := range hub.clients {
				if !client.allowed(message.PropertyID) {
					continue
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(hub.clients, client)
				}
			}
			hub.mu.RUnlock()
		}
	}
}

// readPump handles reading messages from the WebSocket
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	// 30s read deadline since we ping every 20s
	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			switch msg.Type {
			case "ping":
				pong := WebSocketMessage{
					Type:      "pong",
					Data:      map[string]string{"status": "ok"},
					Timestamp: time.Now(),
				}
				select {
				case c.send <- pong:
				default:
					return
				}
			}
		}
	}
}

// writePump handles writing messages to the WebSocket
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(20 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				log.Error().Err(err).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("WebSocket ping failed")
				return
			}
		}
	}
}

// GetConnectedClients returns the number of connected clients
func (h *WebSocketHandler) GetConnectedClients() int {
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	return len(h.hub.clients)
}

// Stats reports live connection counts for operators
func (h *WebSocketHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"connected_clients": h.GetConnectedClients(),
	})
}
