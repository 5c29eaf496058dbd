package repository

import (
	"context"
	"time"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralRepository stores referrals, counted trips and the rewards issued
// with them
type ReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository creates a new referral repository
func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// CreateReferral inserts a referral. The (referrer_id, referred_id) pair is unique.
func (r *ReferralRepository) CreateReferral(ctx context.Context, referral *models.Referral) error {
	if referral.Version == 0 {
		referral.Version = 1
	}
	return classify("create referral", r.db.WithContext(ctx).Create(referral).Error)
}

// GetReferral fetches a referral by id
func (r *ReferralRepository) GetReferral(ctx context.Context, id string) (*models.Referral, error) {
	var referral models.Referral
	if err := r.db.WithContext(ctx).First(&referral, "id = ?", id).Error; err != nil {
		return nil, notFound("get referral", "referral", id, err)
	}
	return &referral, nil
}

// GetByPair fetches the referral linking a referrer and a referred user
func (r *ReferralRepository) GetByPair(ctx context.Context, referrerID, referredID string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_id = ? AND referred_id = ?", referrerID, referredID).
		First(&referral).Error
	if err != nil {
		return nil, notFound("get referral by pair", "referral", referrerID+"/"+referredID, err)
	}
	return &referral, nil
}

// FindByReferredID returns the oldest non-rejected referral of a referred user
func (r *ReferralRepository) FindByReferredID(ctx context.Context, referredID string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_id = ? AND status <> ?", referredID, models.ReferralStatusRejected).
		Order("created_at ASC").
		First(&referral).Error
	if err != nil {
		return nil, notFound("find referral by referred", "referral for user", referredID, err)
	}
	return &referral, nil
}

// ListByReferrer returns a referrer's referrals, newest first
func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&referrals).Error
	return referrals, classify("list referrals by referrer", err)
}

// CountByDevice counts referrals created from a device
func (r *ReferralRepository) CountByDevice(ctx context.Context, deviceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("meta_device_id = ?", deviceID).
		Count(&count).Error
	return count, classify("count referrals by device", err)
}

// CountByIPSince counts referrals created from an IP address since a point in time
func (r *ReferralRepository) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("meta_ip_address = ? AND created_at >= ?", ipAddress, since).
		Count(&count).Error
	return count, classify("count referrals by ip", err)
}

// CountByReferrerSince counts a referrer's referrals since a point in time
func (r *ReferralRepository) CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("referrer_id = ? AND created_at >= ?", referrerID, since).
		Count(&count).Error
	return count, classify("count referrals by referrer", err)
}

// CommitProgress writes a referral's new state, the counted trip and any
// rewards in one transaction. The update only applies while the stored
// version still equals the expected one.
func (r *ReferralRepository) CommitProgress(ctx context.Context, commit models.ProgressCommit) error {
	ref := commit.Referral
	nextVersion := commit.ExpectedVersion + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Referral{}).
			Where("id = ? AND version = ?", ref.ID, commit.ExpectedVersion).
			Updates(map[string]interface{}{
				"status":                     ref.Status,
				"referred_trips_completed":   ref.ReferredTripsCompleted,
				"referrer_reward_paid":       ref.ReferrerRewardPaid,
				"referred_reward_paid":       ref.ReferredRewardPaid,
				"meta_first_trip_at":         ref.Metadata.FirstTripAt,
				"meta_referrer_milestone_at": ref.Metadata.ReferrerMilestoneAt,
				"meta_referred_milestone_at": ref.Metadata.ReferredMilestoneAt,
				"version":                    nextVersion,
				"updated_at":                 ref.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrVersionConflict
		}

		if commit.TripID != "" {
			counted := models.CountedTrip{
				TripID:     commit.TripID,
				ReferralID: ref.ID,
				CountedAt:  ref.UpdatedAt,
			}
			if err := tx.Create(&counted).Error; err != nil {
				if isUniqueViolation(err) {
					return apperrors.ErrDuplicateTrip
				}
				return err
			}
		}

		if len(commit.Rewards) > 0 {
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(commit.Rewards).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify("commit progress", err)
	}

	ref.Version = nextVersion
	return nil
}

// ListMissedMilestones finds open referrals whose counter reached a
// threshold without the matching paid flag
func (r *ReferralRepository) ListMissedMilestones(ctx context.Context, referrerThreshold, referredThreshold, limit int) ([]models.Referral, error) {
	var referrals []models.Referral
	query := r.db.WithContext(ctx).
		Where("status IN ?", []models.ReferralStatus{models.ReferralStatusPending, models.ReferralStatusActive}).
		Where("(referred_trips_completed >= ? AND referrer_reward_paid = ?) OR (referred_trips_completed >= ? AND referred_reward_paid = ?)",
			referrerThreshold, false, referredThreshold, false).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&referrals).Error
	return referrals, classify("list missed milestones", err)
}
