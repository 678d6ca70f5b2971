package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/lease"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultCampaignLeaseTTL = 2 * time.Minute

// CampaignService runs campaign status transitions together with the
// scheduled-email work each one implies, undoing the transition when that
// work fails.
type CampaignService struct {
	campaigns  repository.CampaignRepository
	scheduler  *CampaignEmailScheduler
	reconciler completionChecker
	locker     lease.Locker
	leaseTTL   time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	scheduler *CampaignEmailScheduler,
	reconciler completionChecker,
	logger *zap.Logger,
) (*CampaignService, error) {
	if campaigns == nil {
		return nil, errNilDependency("campaign repository")
	}
	if scheduler == nil {
		return nil, errNilDependency("scheduler")
	}
	if reconciler == nil {
		return nil, errNilDependency("completion reconciler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns:  campaigns,
		scheduler:  scheduler,
		reconciler: reconciler,
		leaseTTL:   defaultCampaignLeaseTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// SetLocker serializes lifecycle operations per campaign across instances.
func (s *CampaignService) SetLocker(locker lease.Locker, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCampaignLeaseTTL
	}
	s.locker = locker
	s.leaseTTL = ttl
}

// StartCampaign moves a draft campaign to running and schedules its emails.
// If scheduling fails the campaign is put back to draft.
func (s *CampaignService) StartCampaign(ctx context.Context, campaignID string) (*ScheduleResult, error) {
	release, err := s.acquire(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.transition(ctx, campaignID, domain.CampaignDraft, domain.CampaignRunning); err != nil {
		return nil, err
	}

	result, err := s.scheduler.ScheduleEmailsForCampaign(ctx, campaignID)
	if err != nil {
		if revertErr := s.transition(ctx, campaignID, domain.CampaignRunning, domain.CampaignDraft); revertErr != nil {
			return nil, fmt.Errorf("start campaign %s: %w (failed to revert to draft: %v)", campaignID, err, revertErr)
		}
		contextLogger(s.logger, ctx, campaignID).Warn("campaign reverted to draft after scheduling failure", zap.Error(err))
		return nil, fmt.Errorf("start campaign %s: %w", campaignID, err)
	}

	s.checkCompletion(ctx, campaignID)
	return result, nil
}

// PauseCampaign stops a running campaign and cancels its pending emails.
func (s *CampaignService) PauseCampaign(ctx context.Context, campaignID string) (int, error) {
	release, err := s.acquire(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := s.transition(ctx, campaignID, domain.CampaignRunning, domain.CampaignPaused); err != nil {
		return 0, err
	}

	cancelled, err := s.scheduler.CancelScheduledEmails(ctx, campaignID)
	if err != nil {
		// Pending rows of a paused campaign would be skipped for good.
		if revertErr := s.transition(ctx, campaignID, domain.CampaignPaused, domain.CampaignRunning); revertErr != nil {
			return 0, fmt.Errorf("pause campaign %s: %w (failed to revert to running: %v)", campaignID, err, revertErr)
		}
		contextLogger(s.logger, ctx, campaignID).Warn("campaign reverted to running after cancel failure", zap.Error(err))
		return 0, fmt.Errorf("pause campaign %s: %w", campaignID, err)
	}
	return cancelled, nil
}

// ResumeCampaign restarts a paused campaign and makes its cancelled emails
// pending again.
func (s *CampaignService) ResumeCampaign(ctx context.Context, campaignID string) (int, error) {
	release, err := s.acquire(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := s.transition(ctx, campaignID, domain.CampaignPaused, domain.CampaignRunning); err != nil {
		return 0, err
	}

	resumed, err := s.scheduler.ResumeScheduledEmails(ctx, campaignID)
	if err != nil {
		if revertErr := s.transition(ctx, campaignID, domain.CampaignRunning, domain.CampaignPaused); revertErr != nil {
			return 0, fmt.Errorf("resume campaign %s: %w (failed to revert to paused: %v)", campaignID, err, revertErr)
		}
		contextLogger(s.logger, ctx, campaignID).Warn("campaign reverted to paused after resume failure", zap.Error(err))
		return 0, fmt.Errorf("resume campaign %s: %w", campaignID, err)
	}

	s.checkCompletion(ctx, campaignID)
	return resumed, nil
}

// RetryFailed makes the campaign's failed emails pending again. A completed
// campaign is reopened first so the sender does not skip the retried rows.
func (s *CampaignService) RetryFailed(ctx context.Context, campaignID string) (int, error) {
	release, err := s.acquire(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	defer release()

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}

	switch campaign.Status {
	case domain.CampaignRunning:
	case domain.CampaignCompleted:
		if err := s.transition(ctx, campaignID, domain.CampaignCompleted, domain.CampaignRunning); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: campaign %s is %s", domain.ErrCampaignNotRunning, campaignID, campaign.Status)
	}

	retried, err := s.scheduler.RetryFailedEmails(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	s.checkCompletion(ctx, campaignID)
	return retried, nil
}

func (s *CampaignService) GetCampaignEmailStats(ctx context.Context, campaignID string) (*domain.ScheduledEmailStats, error) {
	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	return s.scheduler.GetCampaignEmailStats(ctx, campaignID)
}

func (s *CampaignService) ListScheduledEmails(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error) {
	return s.scheduler.ListScheduledEmails(ctx, params)
}

func (s *CampaignService) transition(ctx context.Context, campaignID string, from, to domain.CampaignStatus) error {
	err := s.campaigns.TransitionStatus(ctx, campaignID, from, to, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if _, getErr := s.campaigns.GetByID(ctx, campaignID); errors.Is(getErr, domain.ErrNotFound) {
				return fmt.Errorf("load campaign %s: %w", campaignID, getErr)
			}
			return err
		}
		return fmt.Errorf("move campaign %s from %s to %s: %w", campaignID, from, to, err)
	}

	s.metrics.IncCampaignTransition(to.String())
	contextLogger(s.logger, ctx, campaignID).Info("campaign status changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

func (s *CampaignService) checkCompletion(ctx context.Context, campaignID string) {
	if _, err := s.reconciler.CheckCampaignCompletion(ctx, campaignID); err != nil {
		contextLogger(s.logger, ctx, campaignID).Warn("completion check failed", zap.Error(err))
	}
}

func (s *CampaignService) acquire(ctx context.Context, campaignID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	held, ok, err := s.locker.TryLock(ctx, "campaign:"+campaignID, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease for campaign %s: %w", campaignID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", domain.ErrLeaseHeld, campaignID)
	}

	return func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release campaign lease", zap.String("campaignId", campaignID), zap.Error(err))
		}
	}, nil
}
