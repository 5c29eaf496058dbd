package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createAuditLogTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_audit_log_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS referral_audit_logs (
					id UUID PRIMARY KEY,
					event_type VARCHAR(50) NOT NULL,
					payload TEXT,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_referral_audit_logs_event_type ON referral_audit_logs(event_type);
				CREATE INDEX IF NOT EXISTS idx_referral_audit_logs_created_at ON referral_audit_logs(created_at);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS referral_audit_logs").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createAuditLogTable())
}
