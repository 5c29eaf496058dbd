package models

import (
	"fmt"
	"time"
)

// RewardType identifies which party a reward pays
type RewardType string

const (
	RewardTypeReferrer RewardType = "referrer"
	RewardTypeReferred RewardType = "referred"
)

// Valid reports whether t is a known reward type
func (t RewardType) Valid() bool {
	return t == RewardTypeReferrer || t == RewardTypeReferred
}

// RewardStatus tracks the payout of a reward
type RewardStatus string

const (
	RewardStatusPending    RewardStatus = "pending"
	RewardStatusProcessing RewardStatus = "processing"
	RewardStatusPaid       RewardStatus = "paid"
	RewardStatusFailed     RewardStatus = "failed"
)

// CanTransitionTo reports whether the payout collaborator may move a reward
// from s to next. Paid is final; failed rewards may be retried.
func (s RewardStatus) CanTransitionTo(next RewardStatus) bool {
	switch s {
	case RewardStatusPending:
		return next == RewardStatusProcessing || next == RewardStatusPaid || next == RewardStatusFailed
	case RewardStatusProcessing:
		return next == RewardStatusPaid || next == RewardStatusFailed
	case RewardStatusFailed:
		return next == RewardStatusProcessing
	default:
		return false
	}
}

// Reward is a one-time ledger entry owed to a referrer or a referred user.
// At most one reward exists per (referral, type).
type Reward struct {
	ID         string       `gorm:"type:varchar(128);primaryKey" json:"id"`
	UserID     string       `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ReferralID string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_rewards_referral_type,priority:1" json:"referral_id"`
	Type       RewardType   `gorm:"type:varchar(20);not null;uniqueIndex:idx_rewards_referral_type,priority:2" json:"type"`
	Amount     int64        `gorm:"not null" json:"amount"`
	Currency   string       `gorm:"type:varchar(3);not null" json:"currency"`
	Status     RewardStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	PaidAt     *time.Time   `json:"paid_at,omitempty"`
}

// TableName overrides the gorm default
func (Reward) TableName() string { return "referral_rewards" }

// RewardID returns the deterministic id of the reward for a referral and type
func RewardID(referralID string, t RewardType) string {
	return fmt.Sprintf("reward_%s_%s", referralID, t)
}
