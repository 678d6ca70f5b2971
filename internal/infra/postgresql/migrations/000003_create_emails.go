package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createEmailsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_emails",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_emails_campaign_lead ON emails (campaign_id, lead_id)`,
				`CREATE INDEX IF NOT EXISTS idx_emails_scheduled_email_id ON emails (scheduled_email_id) WHERE scheduled_email_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailModel{})
		},
	}
}
