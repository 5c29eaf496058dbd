package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createDirectoryTables creates the users and trips tables when the engine
// runs against its own database. In a shared database they already exist and
// are left untouched.
func createDirectoryTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_directory_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					email VARCHAR(255),
					referral_code VARCHAR(20) UNIQUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`).Error; err != nil {
				return err
			}

			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS trips (
					id VARCHAR(64) PRIMARY KEY,
					rider_id VARCHAR(64) NOT NULL,
					driver_id VARCHAR(64),
					status VARCHAR(20) NOT NULL,
					is_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
					completed_at TIMESTAMP WITH TIME ZONE,
					distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
					duration_seconds INT NOT NULL DEFAULT 0,
					fare DOUBLE PRECISION NOT NULL DEFAULT 0,
					currency VARCHAR(3)
				);

				CREATE INDEX IF NOT EXISTS idx_trips_rider_id ON trips(rider_id);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			// owned by the accounts and booking services
			return nil
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createDirectoryTables())
}
