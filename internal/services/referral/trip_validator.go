package referral

import (
	"context"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
)

// Invalid trip reasons
const (
	InvalidTripFraudulent = "fraudulent"
	InvalidTripCancelled  = "cancelled"
)

// TripValidationResult is the verdict on a completed trip
type TripValidationResult struct {
	IsValid      bool    `json:"is_valid"`
	IsCompleted  bool    `json:"is_completed"`
	IsCancelled  bool    `json:"is_cancelled"`
	IsFraudulent bool    `json:"is_fraudulent"`
	WrongRider   bool    `json:"wrong_rider,omitempty"`
	DistanceKm   float64 `json:"distance_km"`
	Duration     int     `json:"duration_seconds"`
	Fare         float64 `json:"fare"`
}

// Reason is the audit reason for an invalid trip. Only two reasons are
// recorded: a trip that is merely not completed yet (wrong status or no
// completion time) is reported as cancelled.
func (r *TripValidationResult) Reason() string {
	if r.IsFraudulent {
		return InvalidTripFraudulent
	}
	return InvalidTripCancelled
}

// TripValidator decides whether a trip may advance a referral
type TripValidator struct {
	trips   TripStore
	program config.ProgramConfig
	log     *zap.Logger
}

// NewTripValidator creates a new trip validator
func NewTripValidator(trips TripStore, program config.ProgramConfig, log *zap.Logger) *TripValidator {
	return &TripValidator{trips: trips, program: program, log: log}
}

// Validate loads a trip and checks it for the referred rider. A trip that
// cannot be found or belongs to another rider is treated as fraudulent.
func (v *TripValidator) Validate(ctx context.Context, referredID, tripID string) (*TripValidationResult, error) {
	var trip *models.Trip
	err := retry.Do(ctx, v.program.Retry, v.log, "get_trip", func(ctx context.Context) error {
		var getErr error
		trip, getErr = v.trips.GetTrip(ctx, tripID)
		return getErr
	})
	if apperrors.IsNotFound(err) {
		v.log.Warn("trip not found, failing closed", zap.String("trip_id", tripID))
		return &TripValidationResult{IsFraudulent: true}, nil
	}
	if err != nil {
		return nil, err
	}

	result := v.Check(trip)
	if trip.RiderID != referredID {
		v.log.Warn("trip belongs to another rider",
			zap.String("trip_id", tripID),
			zap.String("referred_id", referredID),
			zap.String("rider_id", trip.RiderID))
		result.WrongRider = true
		result.IsFraudulent = true
		result.IsValid = false
	}
	return result, nil
}

// Check applies the validity rules to a loaded trip
func (v *TripValidator) Check(trip *models.Trip) *TripValidationResult {
	result := &TripValidationResult{
		IsCompleted: trip.Status == models.TripStatusCompleted,
		IsCancelled: trip.IsCancelled || trip.Status == models.TripStatusCancelled,
		DistanceKm:  trip.DistanceKm,
		Duration:    trip.DurationSeconds,
		Fare:        trip.Fare,
	}

	result.IsFraudulent = trip.DistanceKm < v.program.MinTripDistanceKm ||
		trip.DurationSeconds < v.program.MinTripDurationSeconds ||
		trip.Fare < v.program.MinTripFare

	result.IsValid = result.IsCompleted &&
		!result.IsCancelled &&
		trip.CompletedAt != nil &&
		!result.IsFraudulent

	return result
}
