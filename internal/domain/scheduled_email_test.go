package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseScheduledEmailStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ScheduledEmailStatus
		wantErr bool
	}{
		{name: "valid lowercase", input: "pending", want: ScheduledEmailPending},
		{name: "valid uppercase with spaces", input: " SENT ", want: ScheduledEmailSent},
		{name: "invalid", input: "queued", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseScheduledEmailStatus(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseScheduledEmailStatus() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScheduledEmailStatus() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseScheduledEmailStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScheduledEmailStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[ScheduledEmailStatus]bool{
		ScheduledEmailPending:   false,
		ScheduledEmailSent:      true,
		ScheduledEmailFailed:    false,
		ScheduledEmailCancelled: false,
		ScheduledEmailSkipped:   true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestScheduledEmailValidate(t *testing.T) {
	t.Parallel()

	base := ScheduledEmail{
		CampaignID:   "c1",
		LeadID:       "l1",
		OwnerID:      "u1",
		WorkflowStep: 1,
		ScheduledFor: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		Status:       ScheduledEmailPending,
	}

	tests := []struct {
		name    string
		mutate  func(*ScheduledEmail)
		wantErr bool
	}{
		{name: "valid row", mutate: func(*ScheduledEmail) {}},
		{name: "missing campaign", mutate: func(e *ScheduledEmail) { e.CampaignID = " " }, wantErr: true},
		{name: "missing lead", mutate: func(e *ScheduledEmail) { e.LeadID = "" }, wantErr: true},
		{name: "missing owner", mutate: func(e *ScheduledEmail) { e.OwnerID = "" }, wantErr: true},
		{name: "step zero", mutate: func(e *ScheduledEmail) { e.WorkflowStep = 0 }, wantErr: true},
		{name: "zero time", mutate: func(e *ScheduledEmail) { e.ScheduledFor = time.Time{} }, wantErr: true},
		{name: "bad status", mutate: func(e *ScheduledEmail) { e.Status = "queued" }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestScheduledEmailStatsAdd(t *testing.T) {
	t.Parallel()

	var stats ScheduledEmailStats
	stats.Add(ScheduledEmailPending, 3)
	stats.Add(ScheduledEmailSent, 5)
	stats.Add(ScheduledEmailFailed, 1)
	stats.Add(ScheduledEmailCancelled, 2)
	stats.Add(ScheduledEmailSkipped, 4)

	want := ScheduledEmailStats{Total: 15, Pending: 3, Sent: 5, Failed: 1, Cancelled: 2, Skipped: 4}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}
