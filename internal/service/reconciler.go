package service

import (
	"context"
	"fmt"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/queue"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// CompletionReconciler completes running campaigns that have no pending
// scheduled emails left.
type CompletionReconciler struct {
	campaigns       repository.CampaignRepository
	scheduledEmails repository.ScheduledEmailRepository
	publisher       queue.Publisher
	logger          *zap.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

func NewCompletionReconciler(
	campaigns repository.CampaignRepository,
	scheduledEmails repository.ScheduledEmailRepository,
	logger *zap.Logger,
) (*CompletionReconciler, error) {
	if campaigns == nil {
		return nil, errNilDependency("campaign repository")
	}
	if scheduledEmails == nil {
		return nil, errNilDependency("scheduled email repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CompletionReconciler{
		campaigns:       campaigns,
		scheduledEmails: scheduledEmails,
		publisher:       queue.NopPublisher{},
		logger:          logger,
		now:             time.Now,
	}, nil
}

func (r *CompletionReconciler) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

func (r *CompletionReconciler) SetPublisher(publisher queue.Publisher) {
	if publisher != nil {
		r.publisher = publisher
	}
}

// CheckCampaignCompletion reports whether this call moved the campaign to
// completed. Repeated calls after the transition are no-ops.
func (r *CompletionReconciler) CheckCampaignCompletion(ctx context.Context, campaignID string) (bool, error) {
	pending, err := r.scheduledEmails.CountPending(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("count pending emails for campaign %s: %w", campaignID, err)
	}
	if pending > 0 {
		return false, nil
	}

	campaign, err := r.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if campaign.Status != domain.CampaignRunning {
		return false, nil
	}

	now := r.now().UTC()
	completed, err := r.campaigns.MarkCompletedIfRunning(ctx, campaignID, now)
	if err != nil {
		return false, fmt.Errorf("complete campaign %s: %w", campaignID, err)
	}
	if !completed {
		return false, nil
	}

	r.metrics.IncCampaignCompleted()
	r.metrics.IncCampaignTransition(domain.CampaignCompleted.String())
	contextLogger(r.logger, ctx, campaignID).Info("campaign completed")

	event := queue.Event{
		Kind:       queue.EventCampaignCompleted,
		CampaignID: campaignID,
		OccurredAt: now,
	}
	if runID, ok := observability.RunIDFromContext(ctx); ok {
		event.RunID = runID
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish campaign completion",
			zap.String("campaignId", campaignID),
			zap.Error(err),
		)
	}

	return true, nil
}
