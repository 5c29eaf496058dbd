package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createReferralTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_referral_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS referrals (
					id VARCHAR(64) PRIMARY KEY,
					referrer_id VARCHAR(64) NOT NULL,
					referred_id VARCHAR(64) NOT NULL,
					referral_code VARCHAR(20) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					referred_trips_completed INT NOT NULL DEFAULT 0,
					referrer_reward_paid BOOLEAN NOT NULL DEFAULT FALSE,
					referred_reward_paid BOOLEAN NOT NULL DEFAULT FALSE,
					meta_device_id VARCHAR(255),
					meta_ip_address VARCHAR(45),
					meta_signup_date TIMESTAMP WITH TIME ZONE,
					meta_fraud_score DECIMAL(4,2) NOT NULL DEFAULT 0,
					meta_first_trip_at TIMESTAMP WITH TIME ZONE,
					meta_referrer_milestone_at TIMESTAMP WITH TIME ZONE,
					meta_referred_milestone_at TIMESTAMP WITH TIME ZONE,
					version BIGINT NOT NULL DEFAULT 1,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT idx_referrals_pair UNIQUE (referrer_id, referred_id)
				);

				CREATE INDEX IF NOT EXISTS idx_referrals_referrer_id ON referrals(referrer_id);
				CREATE INDEX IF NOT EXISTS idx_referrals_referred_id ON referrals(referred_id);
				CREATE INDEX IF NOT EXISTS idx_referrals_referral_code ON referrals(referral_code);
				CREATE INDEX IF NOT EXISTS idx_referrals_meta_device_id ON referrals(meta_device_id);
				CREATE INDEX IF NOT EXISTS idx_referrals_meta_ip_address ON referrals(meta_ip_address);
				CREATE INDEX IF NOT EXISTS idx_referrals_created_at ON referrals(created_at);
			`).Error; err != nil {
				return err
			}

			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS referral_counted_trips (
					trip_id VARCHAR(64) PRIMARY KEY,
					referral_id VARCHAR(64) NOT NULL REFERENCES referrals(id),
					counted_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_referral_counted_trips_referral_id ON referral_counted_trips(referral_id);
			`).Error; err != nil {
				return err
			}

			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS referral_rewards (
					id VARCHAR(128) PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					referral_id VARCHAR(64) NOT NULL REFERENCES referrals(id),
					type VARCHAR(20) NOT NULL,
					amount BIGINT NOT NULL,
					currency VARCHAR(3) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					paid_at TIMESTAMP WITH TIME ZONE,
					CONSTRAINT idx_rewards_referral_type UNIQUE (referral_id, type)
				);

				CREATE INDEX IF NOT EXISTS idx_referral_rewards_user_id ON referral_rewards(user_id);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`
				DROP TABLE IF EXISTS referral_rewards;
				DROP TABLE IF EXISTS referral_counted_trips;
				DROP TABLE IF EXISTS referrals;
			`).Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createReferralTables())
}
