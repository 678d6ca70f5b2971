package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScheduledEmailStatus represents the lifecycle state of one planned send.
type ScheduledEmailStatus string

const (
	ScheduledEmailPending   ScheduledEmailStatus = "pending"
	ScheduledEmailSent      ScheduledEmailStatus = "sent"
	ScheduledEmailFailed    ScheduledEmailStatus = "failed"
	ScheduledEmailCancelled ScheduledEmailStatus = "cancelled"
	ScheduledEmailSkipped   ScheduledEmailStatus = "skipped"
)

func (s ScheduledEmailStatus) String() string { return string(s) }

func (s ScheduledEmailStatus) IsValid() bool {
	switch s {
	case ScheduledEmailPending, ScheduledEmailSent, ScheduledEmailFailed, ScheduledEmailCancelled, ScheduledEmailSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether no operation can move the row out of this state.
// Failed and cancelled rows are not terminal: retry and resume bring them back
// to pending.
func (s ScheduledEmailStatus) IsTerminal() bool {
	return s == ScheduledEmailSent || s == ScheduledEmailSkipped
}

func ParseScheduledEmailStatus(s string) (ScheduledEmailStatus, error) {
	st := ScheduledEmailStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid scheduled email status %q", ErrValidation, s)
	}
	return st, nil
}

// ScheduledEmail is one planned send of one template to one lead at one time.
type ScheduledEmail struct {
	ID            string
	CampaignID    string
	LeadID        string
	OwnerID       string
	TemplateID    *string
	WorkflowID    *string
	WorkflowStep  int
	ScheduledFor  time.Time
	Status        ScheduledEmailStatus
	SentAt        *time.Time
	FailedAt      *time.Time
	FailureReason *string
	EmailID       *string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (e *ScheduledEmail) Validate() error {
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(e.LeadID) == "" {
		return fmt.Errorf("%w: lead id is required", ErrValidation)
	}
	if strings.TrimSpace(e.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if e.WorkflowStep < 1 {
		return fmt.Errorf("%w: workflow step must be >= 1 (got %d)", ErrValidation, e.WorkflowStep)
	}
	if e.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	return nil
}

// ScheduledEmailStats is the per-status breakdown of a campaign's scheduled emails.
type ScheduledEmailStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Skipped   int64 `json:"skipped"`
}

// Add folds one status bucket into the stats. Unknown statuses only count
// toward the total.
func (s *ScheduledEmailStats) Add(status ScheduledEmailStatus, count int64) {
	s.Total += count
	switch status {
	case ScheduledEmailPending:
		s.Pending += count
	case ScheduledEmailSent:
		s.Sent += count
	case ScheduledEmailFailed:
		s.Failed += count
	case ScheduledEmailCancelled:
		s.Cancelled += count
	case ScheduledEmailSkipped:
		s.Skipped += count
	}
}
