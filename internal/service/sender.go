package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/lease"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/provider"
	"github.com/leadnexconnect/campaign-engine/internal/queue"
	"github.com/leadnexconnect/campaign-engine/internal/ratelimit"
	"github.com/leadnexconnect/campaign-engine/internal/render"
	"go.uber.org/zap"
)

const (
	defaultSendBatchSize   = 50
	defaultMaxActiveOwners = 100
	defaultCycleLeaseTTL   = 5 * time.Minute
	maxFailureReasonLength = 1000
	markSentAttempts       = 3
	markSentBackoff        = 100 * time.Millisecond

	senderCycleLeaseKey = "sender:cycle"
)

// Disposition is what SendScheduledEmail did with a row.
type Disposition string

const (
	DispositionSent        Disposition = "sent"
	DispositionAlreadySent Disposition = "already_sent"
	DispositionFailed      Disposition = "failed"
	DispositionSkipped     Disposition = "skipped"
	DispositionIgnored     Disposition = "ignored"
)

type SendResult struct {
	ScheduledEmailID string      `json:"scheduledEmailId"`
	Disposition      Disposition `json:"disposition"`
	EmailID          string      `json:"emailId,omitempty"`
	Reason           string      `json:"reason,omitempty"`
}

type SendDueResult struct {
	SentCount       int  `json:"sentCount"`
	FailedCount     int  `json:"failedCount"`
	SkippedCount    int  `json:"skippedCount"`
	OwnersProcessed int  `json:"ownersProcessed"`
	CycleSkipped    bool `json:"cycleSkipped"`
}

type SenderOptions struct {
	BatchSize       int
	MaxActiveOwners int
}

type emailRenderer interface {
	Render(tpl domain.EmailTemplate, lead domain.Lead) (render.RenderedEmail, error)
}

type mailTransport interface {
	ProviderName() string
	SendEmail(ctx context.Context, out OutboundEmail) (*DeliveryResult, error)
}

type completionChecker interface {
	CheckCampaignCompletion(ctx context.Context, campaignID string) (bool, error)
}

// EmailSender sends due scheduled emails one row at a time and records the
// outcome of every row it picks up.
type EmailSender struct {
	repos      Repositories
	renderer   emailRenderer
	transport  mailTransport
	reconciler completionChecker
	publisher  queue.Publisher
	limiter    ratelimit.RateLimiter
	locker     lease.Locker
	leaseTTL   time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics

	batchSize int
	maxOwners int
	running   atomic.Bool

	// unrecorded holds rows whose email went out but whose sent status could
	// not be written, keyed by scheduled email id with the email id as value.
	// A row found here is never handed to the transport again.
	unrecorded      sync.Map
	markSentBackoff time.Duration

	now      func() time.Time
	newRunID func() string
}

func NewEmailSender(
	repos Repositories,
	renderer emailRenderer,
	transport mailTransport,
	reconciler completionChecker,
	opts SenderOptions,
	logger *zap.Logger,
) (*EmailSender, error) {
	if err := repos.validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, errNilDependency("renderer")
	}
	if transport == nil {
		return nil, errNilDependency("mail transport")
	}
	if reconciler == nil {
		return nil, errNilDependency("completion reconciler")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSendBatchSize
	}
	if opts.MaxActiveOwners <= 0 {
		opts.MaxActiveOwners = defaultMaxActiveOwners
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailSender{
		repos:      repos,
		renderer:   renderer,
		transport:  transport,
		reconciler: reconciler,
		publisher:  queue.NopPublisher{},
		logger:     logger,
		batchSize:  opts.BatchSize,
		maxOwners:  opts.MaxActiveOwners,
		now:        time.Now,
		newRunID:   uuid.NewString,

		markSentBackoff: markSentBackoff,
	}, nil
}

func (s *EmailSender) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *EmailSender) SetPublisher(publisher queue.Publisher) {
	if publisher != nil {
		s.publisher = publisher
	}
}

func (s *EmailSender) SetRateLimiter(limiter ratelimit.RateLimiter) {
	s.limiter = limiter
}

// SetLocker makes each cycle take a cluster-wide lease so that only one
// instance sends at a time.
func (s *EmailSender) SetLocker(locker lease.Locker, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCycleLeaseTTL
	}
	s.locker = locker
	s.leaseTTL = ttl
}

// SendDueEmails processes due rows owner by owner. A cycle that starts while
// another is still running is skipped, not queued. Per-row and per-owner
// failures are logged and never abort the cycle.
func (s *EmailSender) SendDueEmails(ctx context.Context) (SendDueResult, error) {
	var result SendDueResult

	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncSenderCycle(observability.SenderCycleSkipped)
		result.CycleSkipped = true
		return result, nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		held, ok, err := s.locker.TryLock(ctx, senderCycleLeaseKey, s.leaseTTL)
		if err != nil {
			s.metrics.IncSenderCycle(observability.SenderCycleError)
			return result, fmt.Errorf("acquire sender lease: %w", err)
		}
		if !ok {
			s.metrics.IncSenderCycle(observability.SenderCycleSkipped)
			result.CycleSkipped = true
			return result, nil
		}
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sender lease", zap.Error(err))
			}
		}()
	}

	ctx = observability.WithRunID(ctx, s.newRunID())
	logger := observability.WithContextLogger(s.logger, ctx)
	start := s.now()
	defer func() {
		s.metrics.ObserveSenderCycleDuration(s.now().Sub(start))
	}()

	owners, err := s.repos.ScheduledEmails.ListDueOwners(ctx, start.UTC(), s.maxOwners)
	if err != nil {
		s.metrics.IncSenderCycle(observability.SenderCycleError)
		return result, fmt.Errorf("list owners with due emails: %w", err)
	}

	for _, ownerID := range owners {
		if ctx.Err() != nil {
			break
		}

		rows, err := s.repos.ScheduledEmails.ListDueForOwner(ctx, ownerID, s.now().UTC(), s.batchSize)
		if err != nil {
			logger.Error("failed to list due emails for owner", zap.String("ownerId", ownerID), zap.Error(err))
			continue
		}
		result.OwnersProcessed++

		for _, row := range rows {
			if ctx.Err() != nil {
				break
			}

			res, err := s.SendScheduledEmail(ctx, row.ID)
			if err != nil {
				logger.Warn("scheduled email not sent",
					zap.String("scheduledEmailId", row.ID),
					zap.String("ownerId", ownerID),
					zap.Error(err),
				)
			}
			if res == nil {
				continue
			}
			switch res.Disposition {
			case DispositionSent:
				result.SentCount++
			case DispositionFailed:
				result.FailedCount++
			case DispositionSkipped:
				result.SkippedCount++
			}
		}
	}

	s.metrics.IncSenderCycle(observability.SenderCycleOK)
	if result.SentCount+result.FailedCount+result.SkippedCount > 0 {
		logger.Info("due emails processed",
			zap.Int("sent", result.SentCount),
			zap.Int("failed", result.FailedCount),
			zap.Int("skipped", result.SkippedCount),
			zap.Int("owners", result.OwnersProcessed),
		)
	}

	return result, nil
}

// SendScheduledEmail moves one pending row to sent, failed or skipped. A row
// that is already sent is reported with its email id and nothing is sent.
func (s *EmailSender) SendScheduledEmail(ctx context.Context, id string) (*SendResult, error) {
	row, err := s.repos.ScheduledEmails.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load scheduled email %s: %w", id, err)
	}

	if emailID, ok := s.unrecorded.Load(row.ID); ok {
		return s.repairSent(ctx, row, emailID.(string))
	}

	switch row.Status {
	case domain.ScheduledEmailSent:
		res := &SendResult{ScheduledEmailID: row.ID, Disposition: DispositionAlreadySent}
		if row.EmailID != nil {
			res.EmailID = *row.EmailID
		}
		return res, nil
	case domain.ScheduledEmailPending:
	default:
		return &SendResult{
			ScheduledEmailID: row.ID,
			Disposition:      DispositionIgnored,
			Reason:           fmt.Sprintf("scheduled email is %s", row.Status),
		}, nil
	}

	campaign, err := s.repos.Campaigns.GetByID(ctx, row.CampaignID)
	if err != nil {
		return s.fail(ctx, row, fmt.Errorf("load campaign %s: %w", row.CampaignID, err))
	}
	if campaign.Status != domain.CampaignRunning {
		return s.skip(ctx, row, fmt.Sprintf("campaign status is %s", campaign.Status))
	}

	lead, err := s.repos.Leads.GetByID(ctx, row.LeadID)
	if err != nil {
		return s.fail(ctx, row, fmt.Errorf("load lead %s: %w", row.LeadID, err))
	}

	tpl, err := s.resolveTemplate(ctx, row)
	if err != nil {
		return s.fail(ctx, row, err)
	}

	rendered, err := s.renderer.Render(*tpl, *lead)
	if err != nil {
		return s.fail(ctx, row, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, "mail:"+s.transport.ProviderName()); err != nil {
			if ctx.Err() != nil {
				// Row stays pending for the next cycle.
				return nil, fmt.Errorf("wait for rate limit: %w", err)
			}
			return s.fail(ctx, row, fmt.Errorf("wait for rate limit: %w", err))
		}
	}

	delivery, err := s.transport.SendEmail(ctx, OutboundEmail{
		LeadID:           lead.ID,
		CampaignID:       campaign.ID,
		ScheduledEmailID: row.ID,
		Subject:          rendered.Subject,
		BodyText:         rendered.BodyText,
		BodyHTML:         rendered.BodyHTML,
		FollowUpStage:    domain.FollowUpStage(row.WorkflowStep),
	})
	if err != nil {
		return s.fail(ctx, row, err)
	}

	if err := s.recordSent(ctx, row.ID, delivery.EmailID); err != nil {
		s.unrecorded.Store(row.ID, delivery.EmailID)
		contextLogger(s.logger, ctx, row.CampaignID).Error("email sent but scheduled email not marked sent",
			zap.String("scheduledEmailId", row.ID),
			zap.String("emailId", delivery.EmailID),
			zap.Error(err),
		)
	}
	if err := s.repos.Campaigns.IncrementSent(ctx, row.CampaignID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("failed to increment campaign sent counter", zap.String("campaignId", row.CampaignID), zap.Error(err))
	}

	s.metrics.IncEmailSent(s.transport.ProviderName())
	s.publish(ctx, queue.EventEmailSent, row, delivery.EmailID, "")
	contextLogger(s.logger, ctx, row.CampaignID).Info("scheduled email sent",
		zap.String("scheduledEmailId", row.ID),
		zap.String("emailId", delivery.EmailID),
		zap.String("providerMessageId", delivery.ProviderMessageID),
	)
	s.checkCompletion(ctx, row.CampaignID)

	return &SendResult{
		ScheduledEmailID: row.ID,
		Disposition:      DispositionSent,
		EmailID:          delivery.EmailID,
	}, nil
}

// recordSent writes the sent status, retrying transient store errors. It runs
// detached from ctx because the email has already left.
func (s *EmailSender) recordSent(ctx context.Context, rowID, emailID string) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= markSentAttempts; attempt++ {
		err = s.repos.ScheduledEmails.MarkSent(ctx, rowID, emailID, s.now().UTC())
		if err == nil || errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt < markSentAttempts && s.markSentBackoff > 0 {
			time.Sleep(time.Duration(attempt) * s.markSentBackoff)
		}
	}
	return fmt.Errorf("mark scheduled email %s sent (email %s): %w", rowID, emailID, err)
}

// repairSent finishes the bookkeeping for a row whose email was dispatched
// earlier without its sent status being stored.
func (s *EmailSender) repairSent(ctx context.Context, row *domain.ScheduledEmail, emailID string) (*SendResult, error) {
	res := &SendResult{ScheduledEmailID: row.ID, Disposition: DispositionAlreadySent, EmailID: emailID}

	if row.Status == domain.ScheduledEmailSent {
		s.unrecorded.Delete(row.ID)
		if row.EmailID != nil {
			res.EmailID = *row.EmailID
		}
		return res, nil
	}

	err := s.recordSent(ctx, row.ID, emailID)
	switch {
	case err == nil:
		s.unrecorded.Delete(row.ID)
		contextLogger(s.logger, ctx, row.CampaignID).Info("scheduled email marked sent after earlier write failure",
			zap.String("scheduledEmailId", row.ID),
			zap.String("emailId", emailID),
		)
		s.checkCompletion(ctx, row.CampaignID)
		return res, nil
	case errors.Is(err, domain.ErrConflict):
		// Kept so a later reset of the row cannot send the email again.
		return &SendResult{
			ScheduledEmailID: row.ID,
			Disposition:      DispositionIgnored,
			EmailID:          emailID,
			Reason:           fmt.Sprintf("email already dispatched; scheduled email is %s", row.Status),
		}, nil
	default:
		return res, err
	}
}

func (s *EmailSender) resolveTemplate(ctx context.Context, row *domain.ScheduledEmail) (*domain.EmailTemplate, error) {
	templateID := row.TemplateID
	if templateID == nil && row.WorkflowID != nil {
		step, err := s.repos.Workflows.GetStep(ctx, *row.WorkflowID, row.WorkflowStep)
		if err != nil {
			return nil, fmt.Errorf("load workflow %s step %d: %w", *row.WorkflowID, row.WorkflowStep, err)
		}
		if step.EmailTemplateID != "" {
			templateID = &step.EmailTemplateID
		}
	}
	if templateID == nil {
		return nil, fmt.Errorf("%w: scheduled email %s has no template", domain.ErrNotFound, row.ID)
	}

	tpl, err := s.repos.Templates.GetByID(ctx, *templateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", *templateID, err)
	}
	return tpl, nil
}

func (s *EmailSender) skip(ctx context.Context, row *domain.ScheduledEmail, reason string) (*SendResult, error) {
	if err := s.repos.ScheduledEmails.MarkSkipped(ctx, row.ID, reason); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return &SendResult{ScheduledEmailID: row.ID, Disposition: DispositionIgnored, Reason: "scheduled email changed concurrently"}, nil
		}
		return nil, fmt.Errorf("mark scheduled email %s skipped: %w", row.ID, err)
	}

	s.metrics.IncEmailSkipped()
	s.publish(ctx, queue.EventEmailSkipped, row, "", reason)
	contextLogger(s.logger, ctx, row.CampaignID).Info("scheduled email skipped",
		zap.String("scheduledEmailId", row.ID),
		zap.String("reason", reason),
	)
	s.checkCompletion(ctx, row.CampaignID)

	return &SendResult{ScheduledEmailID: row.ID, Disposition: DispositionSkipped, Reason: reason}, nil
}

// fail records cause on the row and returns it alongside a failed result.
func (s *EmailSender) fail(ctx context.Context, row *domain.ScheduledEmail, cause error) (*SendResult, error) {
	reason := truncate(cause.Error(), maxFailureReasonLength)

	if err := s.repos.ScheduledEmails.MarkFailed(ctx, row.ID, reason, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("%w (failed to mark scheduled email as failed: %v)", cause, err)
	}
	if err := s.repos.Campaigns.IncrementFailed(ctx, row.CampaignID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("failed to increment campaign failed counter", zap.String("campaignId", row.CampaignID), zap.Error(err))
	}

	s.metrics.IncEmailFailed(failureKind(cause))
	s.publish(ctx, queue.EventEmailFailed, row, "", reason)
	s.checkCompletion(ctx, row.CampaignID)

	return &SendResult{ScheduledEmailID: row.ID, Disposition: DispositionFailed, Reason: reason}, cause
}

func (s *EmailSender) checkCompletion(ctx context.Context, campaignID string) {
	if _, err := s.reconciler.CheckCampaignCompletion(ctx, campaignID); err != nil {
		contextLogger(s.logger, ctx, campaignID).Warn("completion check failed", zap.Error(err))
	}
}

func (s *EmailSender) publish(ctx context.Context, kind queue.EventKind, row *domain.ScheduledEmail, emailID, reason string) {
	event := queue.Event{
		Kind:             kind,
		CampaignID:       row.CampaignID,
		ScheduledEmailID: row.ID,
		LeadID:           row.LeadID,
		EmailID:          emailID,
		Reason:           reason,
		OccurredAt:       s.now().UTC(),
	}
	if runID, ok := observability.RunIDFromContext(ctx); ok {
		event.RunID = runID
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish email event",
			zap.String("kind", kind.String()),
			zap.String("scheduledEmailId", row.ID),
			zap.Error(err),
		)
	}
}

func failureKind(err error) string {
	switch {
	case provider.IsTransient(err):
		return "transient"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "permanent"
	}
}

// truncate cuts s to at most limit bytes without splitting a rune, and drops
// any invalid UTF-8 so the result can be stored in a text column.
func truncate(s string, limit int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
