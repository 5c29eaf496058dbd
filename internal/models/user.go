package models

import (
	"time"
)

// User is the slice of the user directory the referral engine reads. The
// table is owned by the accounts service; only referral_code is written here.
type User struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255)" json:"email"`
	ReferralCode *string   `gorm:"type:varchar(20);uniqueIndex" json:"referral_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
