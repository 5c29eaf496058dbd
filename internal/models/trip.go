package models

import (
	"time"
)

// TripStatus is the booking service's trip state
type TripStatus string

const (
	TripStatusRequested  TripStatus = "requested"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// Trip is a read-only view of a booking record
type Trip struct {
	ID              string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	RiderID         string     `gorm:"type:varchar(64);index" json:"rider_id"`
	DriverID        string     `gorm:"type:varchar(64)" json:"driver_id"`
	Status          TripStatus `gorm:"type:varchar(20)" json:"status"`
	IsCancelled     bool       `json:"is_cancelled"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DistanceKm      float64    `json:"distance_km"`
	DurationSeconds int        `json:"duration_seconds"`
	Fare            float64    `json:"fare"`
	Currency        string     `gorm:"type:varchar(3)" json:"currency"`
}

// TableName overrides the gorm default
func (Trip) TableName() string { return "trips" }
