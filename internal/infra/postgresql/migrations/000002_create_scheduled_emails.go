package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createScheduledEmailsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_scheduled_emails",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduledEmailModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				// One row per (campaign, lead, step) keeps re-scheduling idempotent.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_emails_campaign_lead_step ON scheduled_emails (campaign_id, lead_id, workflow_step)`,
				`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_due ON scheduled_emails (owner_id, scheduled_for, created_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_campaign_status ON scheduled_emails (campaign_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ScheduledEmailModel{})
		},
	}
}
