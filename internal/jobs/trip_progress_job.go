package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/queue"
	"github.com/revaspay/referrals/internal/services/referral"
	"go.uber.org/zap"
)

// ProgressUpdater is the part of the referral service the trip job drives
type ProgressUpdater interface {
	UpdateProgress(ctx context.Context, referredID, tripID string) (*referral.ProgressResult, error)
}

// TripProgressJob turns trip-completion events into referral progress
type TripProgressJob struct {
	svc ProgressUpdater
	log *zap.Logger
}

// NewTripProgressJob creates a new trip progress job handler
func NewTripProgressJob(svc ProgressUpdater, log *zap.Logger) *TripProgressJob {
	return &TripProgressJob{svc: svc, log: log}
}

// Handle processes one trip-completion event. Business outcomes are
// acknowledged; only store failures are returned for redelivery.
func (j *TripProgressJob) Handle(ctx context.Context, job queue.Job) error {
	var event queue.TripCompletedEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal trip completed event: %w", err)
	}
	if event.TripID == "" || event.RiderID == "" {
		return errors.New("trip completed event requires trip_id and rider_id")
	}

	result, err := j.svc.UpdateProgress(ctx, event.RiderID, event.TripID)
	if err != nil {
		if apperrors.IsNotFound(err) || apperrors.IsValidation(err) {
			j.log.Info("trip event skipped",
				zap.String("trip_id", event.TripID),
				zap.String("rider_id", event.RiderID),
				zap.Error(err))
			return nil
		}
		return err
	}

	j.log.Debug("trip event processed",
		zap.String("trip_id", event.TripID),
		zap.String("rider_id", event.RiderID),
		zap.Bool("counted", result.Counted),
		zap.String("reason", result.Reason),
		zap.Int("trips_completed", result.TripsCompleted))
	return nil
}
