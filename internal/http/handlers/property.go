package handlers

import (
	"net/http"

	"hostline/internal/repo"
	"hostline/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// PropertyHandler handles property endpoints
type PropertyHandler struct {
	properties *repo.PropertyRepository
}

// NewPropertyHandler creates a new property handler
func NewPropertyHandler(db *gorm.DB) *PropertyHandler {
	return &PropertyHandler{properties: repo.NewPropertyRepository(db)}
}

// List returns the properties the operator can work in
func (h *PropertyHandler) List(c echo.Context) error {
	userID, role, ok := operatorContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user context"})
	}

	var (
		properties []models.Property
		err        error
	)
	if role == "admin" {
		properties, err = h.properties.ListAll()
	} else {
		properties, err = h.properties.ListForUser(userID)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list properties")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list properties"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"properties": properties,
		"total":      len(properties),
	})
}
