package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/lease"
	"github.com/leadnexconnect/campaign-engine/internal/queue"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// memStore is an in-memory stand-in for the relational store that keeps the
// conditional-update semantics of the GORM repositories.
type memStore struct {
	mu sync.Mutex

	campaigns   map[string]*domain.Campaign
	leads       map[string]*domain.Lead
	assignments map[string][]string
	templates   map[string]*domain.EmailTemplate
	steps       map[string][]domain.WorkflowStep
	rows        map[string]*domain.ScheduledEmail
	rowOrder    []string
	emails      map[string]*domain.Email

	createBatchErr     error
	cancelPendingErr   error
	resumeCancelledErr error
	// markSentErr, when set, is consulted under the store lock before every
	// scheduled email MarkSent.
	markSentErr func(id string) error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:   map[string]*domain.Campaign{},
		leads:       map[string]*domain.Lead{},
		assignments: map[string][]string{},
		templates:   map[string]*domain.EmailTemplate{},
		steps:       map[string][]domain.WorkflowStep{},
		rows:        map[string]*domain.ScheduledEmail{},
		emails:      map[string]*domain.Email{},
	}
}

func (s *memStore) repos() Repositories {
	return Repositories{
		Campaigns:       &memCampaignRepo{s},
		Leads:           &memLeadRepo{s},
		Templates:       &memTemplateRepo{s},
		Workflows:       &memWorkflowRepo{s},
		ScheduledEmails: &memScheduledEmailRepo{s},
		Emails:          &memEmailRepo{s},
	}
}

func (s *memStore) addCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = &c
}

func (s *memStore) addLead(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = &l
}

func (s *memStore) addTemplate(t domain.EmailTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = &t
}

func (s *memStore) addRow(r domain.ScheduledEmail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[r.ID] = &r
	s.rowOrder = append(s.rowOrder, r.ID)
}

func (s *memStore) campaign(id string) domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) row(id string) domain.ScheduledEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) rowsFor(campaignID string) []domain.ScheduledEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledEmail
	for _, id := range s.rowOrder {
		if r := s.rows[id]; r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *memStore) emailCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emails)
}

type memCampaignRepo struct{ s *memStore }

func (r *memCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: campaign cannot move from %s to %s", domain.ErrValidation, from, to)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != from {
		return fmt.Errorf("%w: campaign %s is not %s", domain.ErrConflict, id, from)
	}
	c.Status = to
	switch {
	case from == domain.CampaignDraft && to == domain.CampaignRunning:
		c.StartedAt = &at
	case to == domain.CampaignPaused:
		c.PausedAt = &at
	case to == domain.CampaignCompleted:
		c.CompletedAt = &at
	case from == domain.CampaignCompleted && to == domain.CampaignRunning:
		c.CompletedAt = nil
	case to == domain.CampaignDraft:
		c.StartedAt = nil
	}
	return nil
}

func (r *memCampaignRepo) AddScheduleCounters(ctx context.Context, id string, scheduled, leadsTargeted int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.EmailsScheduledCount += scheduled
	c.TotalLeadsTargeted = leadsTargeted
	return nil
}

func (r *memCampaignRepo) IncrementSent(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.EmailsSentCount++
	return nil
}

func (r *memCampaignRepo) IncrementFailed(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.EmailsFailedCount++
	return nil
}

func (r *memCampaignRepo) MarkCompletedIfRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != domain.CampaignRunning {
		return false, nil
	}
	for _, row := range r.s.rows {
		if row.CampaignID == id && row.Status == domain.ScheduledEmailPending {
			return false, nil
		}
	}
	c.Status = domain.CampaignCompleted
	c.CompletedAt = &at
	return true, nil
}

type memLeadRepo struct{ s *memStore }

func (r *memLeadRepo) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memLeadRepo) ListByBatchIDs(ctx context.Context, ownerID string, batchIDs []string) ([]domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range batchIDs {
		wanted[id] = true
	}
	var out []domain.Lead
	for _, l := range r.s.leads {
		if l.OwnerID == ownerID && l.BatchID != nil && wanted[*l.BatchID] {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memLeadRepo) ListAssignedToCampaign(ctx context.Context, campaignID string) ([]domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Lead
	for _, id := range r.s.assignments[campaignID] {
		if l, ok := r.s.leads[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

type memTemplateRepo struct{ s *memStore }

func (r *memTemplateRepo) GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

type memWorkflowRepo struct{ s *memStore }

func (r *memWorkflowRepo) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.steps[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Workflow{ID: id}, nil
}

func (r *memWorkflowRepo) ListSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := append([]domain.WorkflowStep(nil), r.s.steps[workflowID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	return steps, nil
}

func (r *memWorkflowRepo) GetStep(ctx context.Context, workflowID string, stepNumber int) (*domain.WorkflowStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, step := range r.s.steps[workflowID] {
		if step.StepNumber == stepNumber {
			cp := step
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memScheduledEmailRepo struct{ s *memStore }

func (r *memScheduledEmailRepo) CreateBatch(ctx context.Context, rows []*domain.ScheduledEmail) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createBatchErr != nil {
		return 0, r.s.createBatchErr
	}
	inserted := 0
	for _, row := range rows {
		duplicate := false
		for _, existing := range r.s.rows {
			if existing.CampaignID == row.CampaignID && existing.LeadID == row.LeadID && existing.WorkflowStep == row.WorkflowStep {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		cp := *row
		r.s.rows[cp.ID] = &cp
		r.s.rowOrder = append(r.s.rowOrder, cp.ID)
		inserted++
	}
	return inserted, nil
}

func (r *memScheduledEmailRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memScheduledEmailRepo) List(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ScheduledEmail
	for _, id := range r.s.rowOrder {
		row := r.s.rows[id]
		if row.CampaignID != params.CampaignID {
			continue
		}
		if params.Status != nil && row.Status != *params.Status {
			continue
		}
		out = append(out, *row)
	}
	sortRows(out)
	return out, int64(len(out)), nil
}

func (r *memScheduledEmailRepo) due(now time.Time) []domain.ScheduledEmail {
	var out []domain.ScheduledEmail
	for _, id := range r.s.rowOrder {
		row := r.s.rows[id]
		if row.Status == domain.ScheduledEmailPending && !row.ScheduledFor.After(now) {
			out = append(out, *row)
		}
	}
	sortRows(out)
	return out
}

func (r *memScheduledEmailRepo) ListDueOwners(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[string]bool{}
	var owners []string
	for _, row := range r.due(now) {
		if !seen[row.OwnerID] {
			seen[row.OwnerID] = true
			owners = append(owners, row.OwnerID)
		}
	}
	if len(owners) > limit {
		owners = owners[:limit]
	}
	return owners, nil
}

func (r *memScheduledEmailRepo) ListDueForOwner(ctx context.Context, ownerID string, now time.Time, limit int) ([]domain.ScheduledEmail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ScheduledEmail
	for _, row := range r.due(now) {
		if row.OwnerID == ownerID && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memScheduledEmailRepo) MarkSent(ctx context.Context, id, emailID string, sentAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.markSentErr != nil {
		if err := r.s.markSentErr(id); err != nil {
			return err
		}
	}
	row, ok := r.s.rows[id]
	if !ok || (row.Status != domain.ScheduledEmailPending && row.Status != domain.ScheduledEmailCancelled) {
		return domain.ErrConflict
	}
	row.Status = domain.ScheduledEmailSent
	row.EmailID = &emailID
	row.SentAt = &sentAt
	return nil
}

func (r *memScheduledEmailRepo) MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.rows[id]
	if !ok || (row.Status != domain.ScheduledEmailPending && row.Status != domain.ScheduledEmailCancelled) {
		return domain.ErrConflict
	}
	row.Status = domain.ScheduledEmailFailed
	row.FailureReason = &reason
	row.FailedAt = &failedAt
	row.RetryCount++
	return nil
}

func (r *memScheduledEmailRepo) MarkSkipped(ctx context.Context, id, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.rows[id]
	if !ok || row.Status != domain.ScheduledEmailPending {
		return domain.ErrConflict
	}
	row.Status = domain.ScheduledEmailSkipped
	row.FailureReason = &reason
	return nil
}

func (r *memScheduledEmailRepo) CancelPending(ctx context.Context, campaignID string) (int64, error) {
	if r.s.cancelPendingErr != nil {
		return 0, r.s.cancelPendingErr
	}
	return r.flip(campaignID, domain.ScheduledEmailPending, func(row *domain.ScheduledEmail) {
		row.Status = domain.ScheduledEmailCancelled
	}), nil
}

func (r *memScheduledEmailRepo) ResumeCancelled(ctx context.Context, campaignID string, now time.Time, shift *time.Duration) (int64, error) {
	if r.s.resumeCancelledErr != nil {
		return 0, r.s.resumeCancelledErr
	}
	return r.flip(campaignID, domain.ScheduledEmailCancelled, func(row *domain.ScheduledEmail) {
		row.Status = domain.ScheduledEmailPending
		if shift == nil {
			row.ScheduledFor = now
			return
		}
		next := row.ScheduledFor.Add(*shift)
		if next.Before(now) {
			next = now
		}
		row.ScheduledFor = next
	}), nil
}

func (r *memScheduledEmailRepo) ResetFailed(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	return r.flip(campaignID, domain.ScheduledEmailFailed, func(row *domain.ScheduledEmail) {
		row.Status = domain.ScheduledEmailPending
		row.ScheduledFor = now
		row.FailedAt = nil
		row.FailureReason = nil
	}), nil
}

func (r *memScheduledEmailRepo) flip(campaignID string, from domain.ScheduledEmailStatus, apply func(*domain.ScheduledEmail)) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, row := range r.s.rows {
		if row.CampaignID == campaignID && row.Status == from {
			apply(row)
			n++
		}
	}
	return n
}

func (r *memScheduledEmailRepo) CountByStatus(ctx context.Context, campaignID string) ([]repository.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[domain.ScheduledEmailStatus]int64{}
	for _, row := range r.s.rows {
		if row.CampaignID == campaignID {
			counts[row.Status]++
		}
	}
	var out []repository.StatusCount
	for status, n := range counts {
		out = append(out, repository.StatusCount{Status: status, Count: n})
	}
	return out, nil
}

func (r *memScheduledEmailRepo) CountPending(ctx context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, row := range r.s.rows {
		if row.CampaignID == campaignID && row.Status == domain.ScheduledEmailPending {
			n++
		}
	}
	return n, nil
}

func sortRows(rows []domain.ScheduledEmail) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ScheduledFor.Equal(rows[j].ScheduledFor) {
			return rows[i].ScheduledFor.Before(rows[j].ScheduledFor)
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}

type memEmailRepo struct{ s *memStore }

func (r *memEmailRepo) Create(ctx context.Context, e *domain.Email) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.emails[e.ID] = &cp
	return nil
}

func (r *memEmailRepo) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memEmailRepo) MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = domain.EmailSent
	e.ProviderMessageID = &providerMessageID
	e.SentAt = &sentAt
	return nil
}

func (r *memEmailRepo) MarkFailed(ctx context.Context, id, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.emails[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = domain.EmailFailed
	e.Error = &reason
	return nil
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  []OutboundEmail
	sendFn func(ctx context.Context, out OutboundEmail) (*DeliveryResult, error)
}

func (f *fakeTransport) ProviderName() string { return "fake" }

func (f *fakeTransport) SendEmail(ctx context.Context, out OutboundEmail) (*DeliveryResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, out)
	n := len(f.calls)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, out)
	}
	return &DeliveryResult{EmailID: fmt.Sprintf("email-%d", n), ProviderMessageID: fmt.Sprintf("msg-%d", n)}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event queue.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) kinds() []queue.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.EventKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeLease struct {
	releaseFn func(ctx context.Context) error
}

func (f *fakeLease) Release(ctx context.Context) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx)
	}
	return nil
}

type fakeLocker struct {
	tryLockFn func(ctx context.Context, key string, ttl time.Duration) (lease.Lease, bool, error)
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (lease.Lease, bool, error) {
	if f.tryLockFn != nil {
		return f.tryLockFn(ctx, key, ttl)
	}
	return &fakeLease{}, true, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, bucket string) (bool, error)
	waitFn  func(ctx context.Context, bucket string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, bucket)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}
