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

// RewardIssuer creates reward ledger entries and flips the matching paid
// flag on the referral. Both happen in the same conditional write, so a
// reward is issued at most once per (referral, type).
type RewardIssuer struct {
	referrals ReferralStore
	rewards   RewardStore
	audit     *audit.Logger
	program   config.ProgramConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewRewardIssuer creates a new reward issuer
func NewRewardIssuer(referrals ReferralStore, rewards RewardStore, auditLog *audit.Logger,
	program config.ProgramConfig, log *zap.Logger) *RewardIssuer {
	return &RewardIssuer{
		referrals: referrals,
		rewards:   rewards,
		audit:     auditLog,
		program:   program,
		log:       log,
		now:       time.Now,
	}
}

// Threshold returns the trip count that earns a reward type
func (i *RewardIssuer) Threshold(t models.RewardType) int {
	if t == models.RewardTypeReferrer {
		return i.program.ReferrerTripThreshold
	}
	return i.program.ReferredTripThreshold
}

// prepare applies a reward to an in-memory copy of the referral and returns
// the ledger entry to insert alongside it. It returns nil when the reward was
// already issued.
func (i *RewardIssuer) prepare(referral *models.Referral, t models.RewardType, at time.Time) *models.Reward {
	if referral.PaidFlag(t) {
		return nil
	}

	reward := &models.Reward{
		ID:         models.RewardID(referral.ID, t),
		ReferralID: referral.ID,
		Type:       t,
		Currency:   i.program.Currency,
		Status:     models.RewardStatusPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	}

	stamp := at
	switch t {
	case models.RewardTypeReferrer:
		reward.UserID = referral.ReferrerID
		reward.Amount = i.program.ReferrerRewardAmount
		referral.ReferrerRewardPaid = true
		referral.Metadata.ReferrerMilestoneAt = &stamp
	case models.RewardTypeReferred:
		reward.UserID = referral.ReferredID
		reward.Amount = i.program.ReferredRewardAmount
		referral.ReferredRewardPaid = true
		referral.Metadata.ReferredMilestoneAt = &stamp
	}
	// completed only once both rewards are issued
	if referral.ReferrerRewardPaid && referral.ReferredRewardPaid {
		referral.Status = models.ReferralStatusCompleted
	}
	referral.UpdatedAt = at

	return reward
}

// issued records the side effects of a committed reward
func (i *RewardIssuer) issued(ctx context.Context, reward *models.Reward) {
	metrics.RewardsIssued.WithLabelValues(string(reward.Type)).Inc()
	i.log.Info("reward issued",
		zap.String("reward_id", reward.ID),
		zap.String("referral_id", reward.ReferralID),
		zap.String("user_id", reward.UserID),
		zap.String("type", string(reward.Type)),
		zap.Int64("amount", reward.Amount))
	i.audit.Log(ctx, audit.EventRewardIssued, map[string]interface{}{
		"reward_id":   reward.ID,
		"referral_id": reward.ReferralID,
		"user_id":     reward.UserID,
		"type":        string(reward.Type),
		"amount":      reward.Amount,
		"currency":    reward.Currency,
	})
}

// Issue creates a reward outside of trip processing, used by the
// reconciliation sweep. It is a no-op returning (nil, nil) when the reward
// was already issued, the referral is closed or the counter has not reached
// the threshold.
func (i *RewardIssuer) Issue(ctx context.Context, referralID string, t models.RewardType) (*models.Reward, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown reward type %q", t)
	}

	for attempt := 0; attempt < i.program.MaxVersionRetries; attempt++ {
		var referral *models.Referral
		err := retry.Do(ctx, i.program.Retry, i.log, "get_referral", func(ctx context.Context) error {
			var getErr error
			referral, getErr = i.referrals.GetReferral(ctx, referralID)
			return getErr
		})
		if err != nil {
			return nil, err
		}

		if referral.PaidFlag(t) || referral.Status == models.ReferralStatusRejected ||
			referral.ReferredTripsCompleted < i.Threshold(t) {
			return nil, nil
		}

		next := *referral
		reward := i.prepare(&next, t, i.now().UTC())
		commit := models.ProgressCommit{
			Referral:        &next,
			ExpectedVersion: referral.Version,
			Rewards:         []*models.Reward{reward},
		}

		err = retry.Do(ctx, i.program.Retry, i.log, "commit_reward", func(ctx context.Context) error {
			return i.referrals.CommitProgress(ctx, commit)
		})
		if errors.Is(err, apperrors.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error issuing %s reward: %w", t, err)
		}

		i.issued(ctx, reward)
		return reward, nil
	}

	return nil, fmt.Errorf("issue %s reward for %s: %w: %v", t, referralID,
		apperrors.ErrServiceUnavailable, apperrors.ErrVersionConflict)
}

// UpdateStatus moves a reward through its payout lifecycle. Setting the
// current status again is a no-op.
func (i *RewardIssuer) UpdateStatus(ctx context.Context, rewardID string, status models.RewardStatus) (*models.Reward, error) {
	for attempt := 0; attempt < i.program.MaxVersionRetries; attempt++ {
		var reward *models.Reward
		err := retry.Do(ctx, i.program.Retry, i.log, "get_reward", func(ctx context.Context) error {
			var getErr error
			reward, getErr = i.rewards.GetReward(ctx, rewardID)
			return getErr
		})
		if err != nil {
			return nil, err
		}

		if reward.Status == status {
			return reward, nil
		}
		if !reward.Status.CanTransitionTo(status) {
			return nil, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidStatusTransition, reward.Status, status)
		}

		at := i.now().UTC()
		err = retry.Do(ctx, i.program.Retry, i.log, "update_reward_status", func(ctx context.Context) error {
			return i.rewards.UpdateRewardStatus(ctx, rewardID, reward.Status, status, at)
		})
		if errors.Is(err, apperrors.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error updating reward status: %w", err)
		}

		i.audit.Log(ctx, audit.EventRewardStatusChanged, map[string]interface{}{
			"reward_id": rewardID,
			"from":      string(reward.Status),
			"to":        string(status),
		})

		previous := reward.Status
		reward.Status = status
		reward.UpdatedAt = at
		if status == models.RewardStatusPaid {
			reward.PaidAt = &at
		}
		i.log.Info("reward status changed",
			zap.String("reward_id", rewardID),
			zap.String("from", string(previous)),
			zap.String("to", string(status)))
		return reward, nil
	}

	return nil, fmt.Errorf("update reward %s: %w: %v", rewardID,
		apperrors.ErrServiceUnavailable, apperrors.ErrVersionConflict)
}
