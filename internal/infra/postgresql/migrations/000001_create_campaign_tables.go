package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

// createCampaignTables creates the campaign, lead, template and workflow tables
// the scheduler reads from.
func createCampaignTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_campaign_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.CampaignModel{},
				&repository.LeadModel{},
				&repository.CampaignLeadModel{},
				&repository.EmailTemplateModel{},
				&repository.WorkflowModel{},
				&repository.WorkflowStepModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaigns_owner_status ON campaigns (owner_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_leads_owner_batch ON leads (owner_id, batch_id) WHERE batch_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_campaign_leads_lead_id ON campaign_leads (lead_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_steps_workflow_step ON workflow_steps (workflow_id, step_number)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.WorkflowStepModel{},
				&repository.WorkflowModel{},
				&repository.EmailTemplateModel{},
				&repository.CampaignLeadModel{},
				&repository.LeadModel{},
				&repository.CampaignModel{},
			)
		},
	}
}
