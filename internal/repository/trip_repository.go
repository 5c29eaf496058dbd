package repository

import (
	"context"

	"github.com/revaspay/referrals/internal/models"
	"gorm.io/gorm"
)

// TripRepository is a read-only view of the booking store
type TripRepository struct {
	db *gorm.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *gorm.DB) *TripRepository {
	return &TripRepository{db: db}
}

// GetTrip fetches a trip by id
func (r *TripRepository) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	var trip models.Trip
	if err := r.db.WithContext(ctx).First(&trip, "id = ?", id).Error; err != nil {
		return nil, notFound("get trip", "trip", id, err)
	}
	return &trip, nil
}
