package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hostline/internal/auth"
	"hostline/internal/repo"
	"hostline/pkg/models"

	"github.com/labstack/echo/v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBCounter int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:handlerstest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBCounter, 1))
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

	return db
}

func TestClientAllowed(t *testing.T) {
	tests := []struct {
		name       string
		admin      bool
		properties map[string]bool
		propertyID string
		want       bool
	}{
		{"admin sees every property", true, nil, "p1", true},
		{"member sees assigned property", false, map[string]bool{"p1": true}, "p1", true},
		{"member blocked elsewhere", false, map[string]bool{"p1": true}, "p2", false},
		{"unscoped events reach everyone", false, map[string]bool{}, "", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := &WebSocketClient{admin: test.admin, properties: test.properties}
			if got := client.allowed(test.propertyID); got != test.want {
				t.Errorf("allowed(%q) = %v, want %v", test.propertyID, got, test.want)
			}
		})
	}
}

func waitForClientCount(t *testing.T, handler *WebSocketHandler, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handler.GetConnectedClients() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connected clients never reached %d, got %d", want, handler.GetConnectedClients())
}

func TestStatsTracksConnections(t *testing.T) {
	db := newTestDB(t)
	handler := NewWebSocketHandler(db, auth.NewService(repo.NewUserRepository(db)))

	e := echo.New()
	stats := func() map[string]int {
		req := httptest.NewRequest(http.MethodGet, "/ws/stats", nil)
		rec := httptest.NewRecorder()
		if err := handler.Stats(e.NewContext(req, rec)); err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		var body map[string]int
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid stats payload: %v", err)
		}
		return body
	}

	if got := stats()["connected_clients"]; got != 0 {
		t.Errorf("connected_clients = %d before any connection, want 0", got)
	}

	client := &WebSocketClient{send: make(chan WebSocketMessage, 4), hub: handler.hub}
	handler.hub.register <- client
	waitForClientCount(t, handler, 1)

	if got := stats()["connected_clients"]; got != 1 {
		t.Errorf("connected_clients = %d with one connection, want 1", got)
	}

	handler.hub.unregister <- client
	waitForClientCount(t, handler, 0)
}
