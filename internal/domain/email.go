package domain

import (
	"fmt"
	"strings"
	"time"
)

// EmailStatus is the delivery state of a sent-email record.
type EmailStatus string

const (
	EmailQueued EmailStatus = "queued"
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

func (s EmailStatus) String() string { return string(s) }

func (s EmailStatus) IsValid() bool {
	switch s {
	case EmailQueued, EmailSent, EmailFailed:
		return true
	}
	return false
}

// Email records one message handed to the mail provider.
type Email struct {
	ID                string
	CampaignID        string
	LeadID            string
	ScheduledEmailID  *string
	ToAddress         string
	Subject           string
	BodyText          string
	BodyHTML          string
	FollowUpStage     string
	Status            EmailStatus
	ProviderMessageID *string
	Error             *string
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (e *Email) Validate() error {
	if strings.TrimSpace(e.ToAddress) == "" {
		return fmt.Errorf("%w: recipient address is required", ErrValidation)
	}
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if e.BodyText == "" && e.BodyHTML == "" {
		return fmt.Errorf("%w: text or html body is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid email status %q", ErrValidation, e.Status)
	}
	return nil
}
