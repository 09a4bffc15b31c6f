package repo

import (
	"hostline/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PropertyRepository handles property and routing-number data access
type PropertyRepository struct {
	db *gorm.DB
}

// NewPropertyRepository creates a new property repository
func NewPropertyRepository(db *gorm.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// GetByID gets a property by ID
func (r *PropertyRepository) GetByID(id uuid.UUID) (*models.Property, error) {
	var property models.Property
	err := r.db.Where("id = ?", id).First(&property).Error
	if err != nil {
		return nil, err
	}
	return &property, nil
}

// RouteServiceNumber maps a destination number to its property. Only
// active mappings on active properties route; anything else is a routing
// failure the caller must treat as unroutable.
func (r *PropertyRepository) RouteServiceNumber(serviceNumber, channel string) (*models.PropertyNumber, error) {
	var number models.PropertyNumber
	err := r.db.Preload("Property").
		Joins("JOIN properties ON properties.id = property_numbers.property_id AND properties.is_active = ? AND properties.deleted_at IS NULL", true).
		Where("property_numbers.phone_number = ? AND property_numbers.channel = ? AND property_numbers.is_active = ?",
			serviceNumber, channel, true).
		First(&number).Error
	if err != nil {
		return nil, err
	}
	return &number, nil
}

// ActiveNumberForProperty returns the service number outbound-initiated
// conversations should use for a property and channel
func (r *PropertyRepository) ActiveNumberForProperty(propertyID uuid.UUID, channel string) (*models.PropertyNumber, error) {
	var number models.PropertyNumber
	err := r.db.Where("property_id = ? AND channel = ? AND is_active = ?", propertyID, channel, true).
		Order("created_at ASC").
		First(&number).Error
	if err != nil {
		return nil, err
	}
	return &number, nil
}

// ListAll returns every active property, for admin operators
func (r *PropertyRepository) ListAll() ([]models.Property, error) {
	var properties []models.Property
	err := r.db.Where("is_active = ?", true).Order("name ASC").Find(&properties).Error
	return properties, err
}

// AllPropertyIDs returns the ids of every active property
func (r *PropertyRepository) AllPropertyIDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&models.Property{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}

// ListForUser returns the properties a user is a member of
func (r *PropertyRepository) ListForUser(userID uuid.UUID) ([]models.Property, error) {
	var properties []models.Property
	err := r.db.
		Joins("JOIN property_memberships ON property_memberships.property_id = properties.id AND property_memberships.deleted_at IS NULL").
		Where("property_memberships.user_id = ?", userID).
		Order("properties.name ASC").
		Find(&properties).Error
	return properties, err
}

// MembershipPropertyIDs returns the ids of all properties a user can access
func (r *PropertyRepository) MembershipPropertyIDs(userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&models.PropertyMembership{}).
		Where("user_id = ?", userID).
		Pluck("property_id", &ids).Error
	return ids, err
}

// HasAccess reports whether a user is a member of a property
func (r *PropertyRepository) HasAccess(userID, propertyID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&models.PropertyMembership{}).
		Where("user_id = ? AND property_id = ?", userID, propertyID).
		Count(&count).Error
	return count > 0, err
}
