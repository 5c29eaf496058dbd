package referral

import (
	"context"
	"time"

	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/security"
)

// ReferralStore persists referral records. Lookups of missing rows return an
// apperrors.NotFoundError; CreateReferral returns apperrors.ErrAlreadyExists
// when the (referrer, referred) pair is taken; CommitProgress returns
// apperrors.ErrVersionConflict or apperrors.ErrDuplicateTrip.
type ReferralStore interface {
	security.ReferralHistory

	CreateReferral(ctx context.Context, referral *models.Referral) error
	GetReferral(ctx context.Context, id string) (*models.Referral, error)
	GetByPair(ctx context.Context, referrerID, referredID string) (*models.Referral, error)
	FindByReferredID(ctx context.Context, referredID string) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error)
	CommitProgress(ctx context.Context, commit models.ProgressCommit) error
	ListMissedMilestones(ctx context.Context, referrerThreshold, referredThreshold, limit int) ([]models.Referral, error)
}

// RewardStore reads reward ledger entries and moves their payout status.
// Rewards are created only through ReferralStore.CommitProgress.
type RewardStore interface {
	GetReward(ctx context.Context, id string) (*models.Reward, error)
	ListRewardsByUser(ctx context.Context, userID string) ([]models.Reward, error)
	UpdateRewardStatus(ctx context.Context, id string, from, to models.RewardStatus, at time.Time) error
}

// UserDirectory looks users up by id and by referral code
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetReferralCode(ctx context.Context, userID, code string) error
}

// TripStore is the booking collaborator
type TripStore interface {
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
}
