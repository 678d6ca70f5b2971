package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	scheduleModeWorkflow = "workflow"
	scheduleModeTemplate = "template"
)

// SchedulerOptions tunes how scheduled rows are materialized and resumed.
type SchedulerOptions struct {
	// PreserveRelativeSchedule shifts resumed rows by the pause duration
	// instead of collapsing them all to the resume time.
	PreserveRelativeSchedule bool
}

// ScheduleResult reports what ScheduleEmailsForCampaign materialized.
type ScheduleResult struct {
	CampaignID     string `json:"campaignId"`
	ScheduledCount int    `json:"scheduledCount"`
	LeadCount      int    `json:"leadCount"`
}

// CampaignEmailScheduler turns a campaign's structure into scheduled email
// rows and owns the bulk status flips over those rows.
type CampaignEmailScheduler struct {
	repos   Repositories
	opts    SchedulerOptions
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string
}

func NewCampaignEmailScheduler(repos Repositories, opts SchedulerOptions, logger *zap.Logger) (*CampaignEmailScheduler, error) {
	if err := repos.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignEmailScheduler{
		repos:  repos,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

func (s *CampaignEmailScheduler) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// ScheduleEmailsForCampaign inserts one row per (lead, workflow step), or one
// row per lead for single-template campaigns. Re-running it for the same
// campaign inserts nothing new.
func (s *CampaignEmailScheduler) ScheduleEmailsForCampaign(ctx context.Context, campaignID string) (*ScheduleResult, error) {
	campaign, err := s.repos.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}

	plan, err := s.buildPlan(ctx, campaign)
	if err != nil {
		return nil, err
	}

	leads, err := s.resolveLeads(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("resolve leads for campaign %s: %w", campaignID, err)
	}

	result := &ScheduleResult{CampaignID: campaign.ID, LeadCount: len(leads)}
	if len(leads) == 0 {
		s.logger.Info("campaign has no leads to schedule", zap.String("campaignId", campaign.ID))
		return result, nil
	}

	now := s.now().UTC()
	rows := make([]*domain.ScheduledEmail, 0, len(leads)*len(plan.steps))
	for _, lead := range leads {
		for _, step := range plan.steps {
			rows = append(rows, &domain.ScheduledEmail{
				ID:           s.newID(),
				CampaignID:   campaign.ID,
				LeadID:       lead.ID,
				OwnerID:      campaign.OwnerID,
				TemplateID:   step.templateID,
				WorkflowID:   plan.workflowID,
				WorkflowStep: step.number,
				ScheduledFor: now.Add(step.offset),
				Status:       domain.ScheduledEmailPending,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
	}

	inserted, err := s.repos.ScheduledEmails.CreateBatch(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("insert scheduled emails for campaign %s: %w", campaignID, err)
	}
	if err := s.repos.Campaigns.AddScheduleCounters(ctx, campaign.ID, inserted, len(leads)); err != nil {
		return nil, fmt.Errorf("update schedule counters for campaign %s: %w", campaignID, err)
	}

	s.metrics.AddEmailsScheduled(plan.mode, inserted)
	s.logger.Info("campaign emails scheduled",
		zap.String("campaignId", campaign.ID),
		zap.String("mode", plan.mode),
		zap.Int("leads", len(leads)),
		zap.Int("scheduled", inserted),
		zap.Int("duplicates", len(rows)-inserted),
	)

	result.ScheduledCount = inserted
	return result, nil
}

type plannedStep struct {
	number     int
	templateID *string
	offset     time.Duration
}

type schedulePlan struct {
	mode       string
	workflowID *string
	steps      []plannedStep
}

func (s *CampaignEmailScheduler) buildPlan(ctx context.Context, campaign *domain.Campaign) (*schedulePlan, error) {
	if campaign.UsesWorkflow() {
		steps, err := s.repos.Workflows.ListSteps(ctx, *campaign.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("load workflow steps %s: %w", *campaign.WorkflowID, err)
		}
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: workflow %s has no steps", domain.ErrConfiguration, *campaign.WorkflowID)
		}

		plan := &schedulePlan{mode: scheduleModeWorkflow, workflowID: campaign.WorkflowID}
		cumulativeDays := 0
		for _, step := range steps {
			if step.DelayDays < 0 {
				return nil, fmt.Errorf("%w: workflow step %d has negative delay", domain.ErrConfiguration, step.StepNumber)
			}
			cumulativeDays += step.DelayDays
			planned := plannedStep{
				number: step.StepNumber,
				offset: time.Duration(cumulativeDays) * 24 * time.Hour,
			}
			if step.EmailTemplateID != "" {
				templateID := step.EmailTemplateID
				planned.templateID = &templateID
			}
			plan.steps = append(plan.steps, planned)
		}
		return plan, nil
	}

	if !campaign.HasTemplate() {
		return nil, fmt.Errorf("%w: campaign %s has neither a workflow nor an email template", domain.ErrConfiguration, campaign.ID)
	}

	return &schedulePlan{
		mode:  scheduleModeTemplate,
		steps: []plannedStep{{number: 1, templateID: campaign.EmailTemplateID}},
	}, nil
}

// resolveLeads tries batch ids, then the legacy single batch id, then direct
// assignments. The first non-empty source wins.
func (s *CampaignEmailScheduler) resolveLeads(ctx context.Context, campaign *domain.Campaign) ([]domain.Lead, error) {
	if len(campaign.BatchIDs) > 0 {
		leads, err := s.repos.Leads.ListByBatchIDs(ctx, campaign.OwnerID, campaign.BatchIDs)
		if err != nil {
			return nil, err
		}
		if len(leads) > 0 {
			return leads, nil
		}
	}

	if campaign.BatchID != nil && *campaign.BatchID != "" {
		leads, err := s.repos.Leads.ListByBatchIDs(ctx, campaign.OwnerID, []string{*campaign.BatchID})
		if err != nil {
			return nil, err
		}
		if len(leads) > 0 {
			return leads, nil
		}
	}

	return s.repos.Leads.ListAssignedToCampaign(ctx, campaign.ID)
}

// CancelScheduledEmails flips every pending row of the campaign to cancelled.
func (s *CampaignEmailScheduler) CancelScheduledEmails(ctx context.Context, campaignID string) (int, error) {
	affected, err := s.repos.ScheduledEmails.CancelPending(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel scheduled emails for campaign %s: %w", campaignID, err)
	}

	s.logger.Info("scheduled emails cancelled",
		zap.String("campaignId", campaignID),
		zap.Int64("cancelled", affected),
	)
	return int(affected), nil
}

// ResumeScheduledEmails makes cancelled rows pending again. Unless
// PreserveRelativeSchedule is set every row becomes due immediately.
func (s *CampaignEmailScheduler) ResumeScheduledEmails(ctx context.Context, campaignID string) (int, error) {
	now := s.now().UTC()

	var shift *time.Duration
	if s.opts.PreserveRelativeSchedule {
		campaign, err := s.repos.Campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return 0, fmt.Errorf("load campaign %s: %w", campaignID, err)
		}
		if campaign.PausedAt != nil && now.After(*campaign.PausedAt) {
			paused := now.Sub(*campaign.PausedAt)
			shift = &paused
		}
	}

	affected, err := s.repos.ScheduledEmails.ResumeCancelled(ctx, campaignID, now, shift)
	if err != nil {
		return 0, fmt.Errorf("resume scheduled emails for campaign %s: %w", campaignID, err)
	}

	fields := []zap.Field{
		zap.String("campaignId", campaignID),
		zap.Int64("resumed", affected),
	}
	if shift != nil {
		fields = append(fields, zap.Duration("shift", *shift))
	}
	s.logger.Info("scheduled emails resumed", fields...)
	return int(affected), nil
}

// RetryFailedEmails makes every failed row of the campaign due now.
func (s *CampaignEmailScheduler) RetryFailedEmails(ctx context.Context, campaignID string) (int, error) {
	affected, err := s.repos.ScheduledEmails.ResetFailed(ctx, campaignID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("retry failed emails for campaign %s: %w", campaignID, err)
	}

	s.logger.Info("failed emails reset for retry",
		zap.String("campaignId", campaignID),
		zap.Int64("retried", affected),
	)
	return int(affected), nil
}

func (s *CampaignEmailScheduler) GetCampaignEmailStats(ctx context.Context, campaignID string) (*domain.ScheduledEmailStats, error) {
	counts, err := s.repos.ScheduledEmails.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count scheduled emails for campaign %s: %w", campaignID, err)
	}

	stats := &domain.ScheduledEmailStats{}
	for _, c := range counts {
		stats.Add(c.Status, c.Count)
	}
	return stats, nil
}

func (s *CampaignEmailScheduler) ListScheduledEmails(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error) {
	if _, err := s.repos.Campaigns.GetByID(ctx, params.CampaignID); err != nil {
		return nil, 0, fmt.Errorf("load campaign %s: %w", params.CampaignID, err)
	}
	return s.repos.ScheduledEmails.List(ctx, params)
}
