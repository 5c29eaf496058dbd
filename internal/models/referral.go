package models

import (
	"time"
)

// ReferralStatus tracks where a referral is in its lifecycle
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusActive    ReferralStatus = "active"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusRejected  ReferralStatus = "rejected"
)

// ReferralMetadata holds the fingerprints captured at signup and the dates
// each milestone was reached
type ReferralMetadata struct {
	DeviceID            string     `gorm:"type:varchar(255);index" json:"device_id,omitempty"`
	IPAddress           string     `gorm:"type:varchar(45);index" json:"ip_address,omitempty"`
	SignupDate          time.Time  `json:"signup_date"`
	FraudScore          float64    `gorm:"type:decimal(4,2)" json:"fraud_score"`
	FirstTripAt         *time.Time `json:"first_trip_at,omitempty"`
	ReferrerMilestoneAt *time.Time `json:"referrer_milestone_at,omitempty"`
	ReferredMilestoneAt *time.Time `json:"referred_milestone_at,omitempty"`
}

// Referral is the audit record linking a referrer to the user they brought in.
// Rows are never deleted. Version is bumped on every write and guards progress
// updates against concurrent trip events.
type Referral struct {
	ID                     string           `gorm:"type:varchar(64);primaryKey" json:"id"`
	ReferrerID             string           `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_referrals_pair,priority:1" json:"referrer_id"`
	ReferredID             string           `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_referrals_pair,priority:2" json:"referred_id"`
	ReferralCode           string           `gorm:"type:varchar(20);not null;index" json:"referral_code"`
	Status                 ReferralStatus   `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ReferredTripsCompleted int              `gorm:"not null;default:0" json:"referred_trips_completed"`
	ReferrerRewardPaid     bool             `gorm:"not null;default:false" json:"referrer_reward_paid"`
	ReferredRewardPaid     bool             `gorm:"not null;default:false" json:"referred_reward_paid"`
	Metadata               ReferralMetadata `gorm:"embedded;embeddedPrefix:meta_" json:"metadata"`
	Version                int64            `gorm:"not null;default:1" json:"version"`
	CreatedAt              time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// TableName overrides the gorm default
func (Referral) TableName() string { return "referrals" }

// IsTerminal reports whether the referral can no longer accrue progress
func (r *Referral) IsTerminal() bool {
	return r.Status == ReferralStatusCompleted || r.Status == ReferralStatusRejected
}

// PaidFlag returns the paid flag that corresponds to a reward type
func (r *Referral) PaidFlag(t RewardType) bool {
	if t == RewardTypeReferrer {
		return r.ReferrerRewardPaid
	}
	return r.ReferredRewardPaid
}

// CountedTrip records that a trip advanced a referral's counter. The trip id
// is the primary key so redelivered events are counted at most once.
type CountedTrip struct {
	TripID     string    `gorm:"type:varchar(64);primaryKey" json:"trip_id"`
	ReferralID string    `gorm:"type:varchar(64);not null;index" json:"referral_id"`
	CountedAt  time.Time `json:"counted_at"`
}

// TableName overrides the gorm default
func (CountedTrip) TableName() string { return "referral_counted_trips" }
