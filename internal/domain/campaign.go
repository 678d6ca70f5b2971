package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignDraft, CampaignRunning, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// running -> draft is the revert taken when scheduling fails on start, and
// completed -> running reopens a campaign whose failed emails were retried.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return next == CampaignRunning
	case CampaignRunning:
		return next == CampaignPaused || next == CampaignCompleted || next == CampaignDraft
	case CampaignPaused:
		return next == CampaignRunning
	case CampaignCompleted:
		return next == CampaignRunning
	}
	return false
}

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// Campaign is the read model of a campaign as far as email scheduling and
// sending are concerned.
type Campaign struct {
	ID                   string
	OwnerID              string
	Name                 string
	Status               CampaignStatus
	UseWorkflow          bool
	WorkflowID           *string
	EmailTemplateID      *string
	BatchIDs             []string
	BatchID              *string
	EmailsScheduledCount int
	EmailsSentCount      int
	EmailsFailedCount    int
	TotalLeadsTargeted   int
	StartedAt            *time.Time
	PausedAt             *time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UsesWorkflow reports whether emails come from a multi-step workflow rather
// than a single template.
func (c *Campaign) UsesWorkflow() bool {
	return c.UseWorkflow && c.WorkflowID != nil && strings.TrimSpace(*c.WorkflowID) != ""
}

// HasTemplate reports whether a single email template is configured.
func (c *Campaign) HasTemplate() bool {
	return c.EmailTemplateID != nil && strings.TrimSpace(*c.EmailTemplateID) != ""
}
