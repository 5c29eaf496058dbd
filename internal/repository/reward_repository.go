package repository

import (
	"context"
	"time"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/models"
	"gorm.io/gorm"
)

// RewardRepository reads the reward ledger and updates payout status.
// Rewards are inserted by ReferralRepository.CommitProgress.
type RewardRepository struct {
	db *gorm.DB
}

// NewRewardRepository creates a new reward repository
func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// GetReward fetches a reward by id
func (r *RewardRepository) GetReward(ctx context.Context, id string) (*models.Reward, error) {
	var reward models.Reward
	if err := r.db.WithContext(ctx).First(&reward, "id = ?", id).Error; err != nil {
		return nil, notFound("get reward", "reward", id, err)
	}
	return &reward, nil
}

// ListRewardsByUser returns every reward owed to a user, newest first
func (r *RewardRepository) ListRewardsByUser(ctx context.Context, userID string) ([]models.Reward, error) {
	var rewards []models.Reward
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rewards).Error
	return rewards, classify("list rewards by user", err)
}

// UpdateRewardStatus moves a reward from one status to another. It returns
// apperrors.ErrVersionConflict when the reward is no longer in status from.
func (r *RewardRepository) UpdateRewardStatus(ctx context.Context, id string, from, to models.RewardStatus, at time.Time) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	if to == models.RewardStatusPaid {
		updates["paid_at"] = at
	}

	result := r.db.WithContext(ctx).Model(&models.Reward{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return classify("update reward status", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetReward(ctx, id); err != nil {
			return err
		}
		return apperrors.ErrVersionConflict
	}
	return nil
}
