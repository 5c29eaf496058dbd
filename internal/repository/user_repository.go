package repository

import (
	"context"

	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/models"
	"gorm.io/gorm"
)

// UserRepository reads the user directory and assigns referral codes
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser fetches a user by id
func (r *UserRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound("get user", "user", id, err)
	}
	return &user, nil
}

// GetUserByReferralCode resolves a referral code to its owner
func (r *UserRepository) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "referral_code = ?", code).Error; err != nil {
		return nil, notFound("get user by referral code", "referral code", code, err)
	}
	return &user, nil
}

// SetReferralCode assigns a code to a user that has none. A code already
// held by someone else yields apperrors.ErrAlreadyExists.
func (r *UserRepository) SetReferralCode(ctx context.Context, userID, code string) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND referral_code IS NULL", userID).
		Update("referral_code", code)
	if result.Error != nil {
		return classify("set referral code", result.Error)
	}
	if result.RowsAffected == 0 {
		user, err := r.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.ReferralCode != nil && *user.ReferralCode == code {
			return nil
		}
		// a concurrent request already assigned a different code
		return apperrors.ErrAlreadyExists
	}
	return nil
}
