package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/audit"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/metrics"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
)

// No-op reasons reported by UpdateProgress
const (
	ProgressNoReferral        = "no_referral"
	ProgressReferralCompleted = "referral_completed"
	ProgressDuplicateTrip     = "duplicate_trip"
)

// ProgressResult reports what a trip completion did to a referral
type ProgressResult struct {
	Success        bool                `json:"success"`
	Counted        bool                `json:"counted"`
	Reason         string              `json:"reason,omitempty"`
	ReferralID     string              `json:"referral_id,omitempty"`
	TripsCompleted int                 `json:"trips_completed"`
	RewardsIssued  []models.RewardType `json:"rewards_issued,omitempty"`
}

// ProgressTracker advances a referral's trip counter and issues rewards when
// a milestone is reached. The read, increment, threshold check and reward
// insert are committed as one versioned write and retried on conflict.
type ProgressTracker struct {
	registry  *Registry
	validator *TripValidator
	issuer    *RewardIssuer
	referrals ReferralStore
	audit     *audit.Logger
	program   config.ProgramConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(registry *Registry, validator *TripValidator, issuer *RewardIssuer,
	referrals ReferralStore, auditLog *audit.Logger, program config.ProgramConfig, log *zap.Logger) *ProgressTracker {
	return &ProgressTracker{
		registry:  registry,
		validator: validator,
		issuer:    issuer,
		referrals: referrals,
		audit:     auditLog,
		program:   program,
		log:       log,
		now:       time.Now,
	}
}

// UpdateProgress records a completed trip for a referred user
func (t *ProgressTracker) UpdateProgress(ctx context.Context, referredID, tripID string) (*ProgressResult, error) {
	referral, err := t.registry.GetByReferredID(ctx, referredID)
	if apperrors.IsNotFound(err) {
		return &ProgressResult{Success: true, Reason: ProgressNoReferral}, nil
	}
	if err != nil {
		return nil, err
	}
	if referral.IsTerminal() {
		return t.noop(referral, ProgressReferralCompleted), nil
	}

	validation, err := t.validator.Validate(ctx, referredID, tripID)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		reason := validation.Reason()
		metrics.InvalidTrips.WithLabelValues(reason).Inc()
		t.log.Info("invalid trip discarded",
			zap.String("referral_id", referral.ID),
			zap.String("trip_id", tripID),
			zap.String("reason", reason))
		t.audit.Log(ctx, audit.EventInvalidTripDetected, map[string]interface{}{
			"referral_id": referral.ID,
			"referred_id": referredID,
			"trip_id":     tripID,
			"reason":      reason,
			"wrong_rider": validation.WrongRider,
		})
		return t.noop(referral, reason), nil
	}

	for attempt := 0; attempt < t.program.MaxVersionRetries; attempt++ {
		if attempt > 0 {
			referral, err = t.registry.Get(ctx, referral.ID)
			if err != nil {
				return nil, err
			}
			if referral.IsTerminal() {
				return t.noop(referral, ProgressReferralCompleted), nil
			}
		}

		next, rewards := t.advance(referral)
		commit := models.ProgressCommit{
			Referral:        next,
			ExpectedVersion: referral.Version,
			TripID:          tripID,
			Rewards:         rewards,
		}

		err = retry.Do(ctx, t.program.Retry, t.log, "commit_progress", func(ctx context.Context) error {
			return t.referrals.CommitProgress(ctx, commit)
		})
		switch {
		case errors.Is(err, apperrors.ErrVersionConflict):
			metrics.VersionConflicts.Inc()
			t.log.Debug("version conflict, reloading referral",
				zap.String("referral_id", referral.ID),
				zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, apperrors.ErrDuplicateTrip):
			return t.noop(referral, ProgressDuplicateTrip), nil
		case err != nil:
			return nil, fmt.Errorf("error updating referral progress: %w", err)
		}

		return t.committed(ctx, next, tripID, rewards), nil
	}

	return nil, fmt.Errorf("update progress for %s: %w: %v", referredID,
		apperrors.ErrServiceUnavailable, apperrors.ErrVersionConflict)
}

// advance builds the next state of a referral after one valid trip
func (t *ProgressTracker) advance(current *models.Referral) (*models.Referral, []*models.Reward) {
	now := t.now().UTC()
	next := *current
	next.ReferredTripsCompleted++
	next.UpdatedAt = now
	if next.Status == models.ReferralStatusPending {
		next.Status = models.ReferralStatusActive
	}
	if next.Metadata.FirstTripAt == nil {
		first := now
		next.Metadata.FirstTripAt = &first
	}

	var rewards []*models.Reward
	for _, rt := range []models.RewardType{models.RewardTypeReferrer, models.RewardTypeReferred} {
		if !t.program.ThresholdReached(next.ReferredTripsCompleted, t.issuer.Threshold(rt)) {
			continue
		}
		if reward := t.issuer.prepare(&next, rt, now); reward != nil {
			rewards = append(rewards, reward)
		}
	}
	return &next, rewards
}

func (t *ProgressTracker) committed(ctx context.Context, referral *models.Referral, tripID string, rewards []*models.Reward) *ProgressResult {
	t.audit.Log(ctx, audit.EventTripCounted, map[string]interface{}{
		"referral_id":     referral.ID,
		"trip_id":         tripID,
		"trips_completed": referral.ReferredTripsCompleted,
	})

	result := &ProgressResult{
		Success:        true,
		Counted:        true,
		ReferralID:     referral.ID,
		TripsCompleted: referral.ReferredTripsCompleted,
	}
	for _, reward := range rewards {
		t.issuer.issued(ctx, reward)
		result.RewardsIssued = append(result.RewardsIssued, reward.Type)
	}
	return result
}

func (t *ProgressTracker) noop(referral *models.Referral, reason string) *ProgressResult {
	return &ProgressResult{
		Success:        true,
		Reason:         reason,
		ReferralID:     referral.ID,
		TripsCompleted: referral.ReferredTripsCompleted,
	}
}
