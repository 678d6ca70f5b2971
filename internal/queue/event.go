package queue

import (
	"fmt"
	"strings"
	"time"
)

// EventKind names a send outcome published to the broker.
type EventKind string

const (
	EventEmailSent         EventKind = "email.sent"
	EventEmailFailed       EventKind = "email.failed"
	EventEmailSkipped      EventKind = "email.skipped"
	EventCampaignCompleted EventKind = "campaign.completed"
)

func (k EventKind) String() string { return string(k) }

func (k EventKind) IsValid() bool {
	switch k {
	case EventEmailSent, EventEmailFailed, EventEmailSkipped, EventCampaignCompleted:
		return true
	}
	return false
}

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("invalid event kind %q", s)
	}
	return k, nil
}

// Event is the broker payload describing one outcome.
type Event struct {
	Kind             EventKind `json:"kind"`
	CampaignID       string    `json:"campaignId"`
	ScheduledEmailID string    `json:"scheduledEmailId,omitempty"`
	LeadID           string    `json:"leadId,omitempty"`
	EmailID          string    `json:"emailId,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	RunID            string    `json:"runId,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if e.Kind != EventCampaignCompleted && strings.TrimSpace(e.ScheduledEmailID) == "" {
		return fmt.Errorf("scheduledEmailId is required for %s", e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}

// MessageID identifies the event for broker-side de-duplication.
func (e Event) MessageID() string {
	if e.ScheduledEmailID != "" {
		return fmt.Sprintf("%s:%s", e.Kind, e.ScheduledEmailID)
	}
	return fmt.Sprintf("%s:%s", e.Kind, e.CampaignID)
}
