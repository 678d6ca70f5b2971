package service

import (
	"context"
	"fmt"

	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// Repositories bundles the stores the campaign services read and write.
type Repositories struct {
	Campaigns       repository.CampaignRepository
	Leads           repository.LeadRepository
	Templates       repository.TemplateRepository
	Workflows       repository.WorkflowRepository
	ScheduledEmails repository.ScheduledEmailRepository
	Emails          repository.EmailRepository
}

func (r Repositories) validate() error {
	switch {
	case r.Campaigns == nil:
		return errNilDependency("campaign repository")
	case r.Leads == nil:
		return errNilDependency("lead repository")
	case r.Templates == nil:
		return errNilDependency("template repository")
	case r.Workflows == nil:
		return errNilDependency("workflow repository")
	case r.ScheduledEmails == nil:
		return errNilDependency("scheduled email repository")
	case r.Emails == nil:
		return errNilDependency("email repository")
	}
	return nil
}

func errNilDependency(name string) error {
	return fmt.Errorf("%s is required", name)
}

func contextLogger(logger *zap.Logger, ctx context.Context, campaignID string) *zap.Logger {
	return observability.WithContextLogger(logger, observability.WithCampaignID(ctx, campaignID))
}
