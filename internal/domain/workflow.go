package domain

import (
	"fmt"
	"time"
)

// Workflow is an ordered sequence of email steps with per-step delays.
type Workflow struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkflowStep is one email in a workflow. DelayDays is counted from the
// previous step, so a step's send time is the sum of delays up to and
// including itself.
type WorkflowStep struct {
	ID              string
	WorkflowID      string
	StepNumber      int
	DelayDays       int
	EmailTemplateID string
}

// FollowUpStage labels a sent email with its position in the sequence:
// "initial" for the first step, "follow_up_<n>" for later ones.
func FollowUpStage(step int) string {
	if step <= 1 {
		return "initial"
	}
	return fmt.Sprintf("follow_up_%d", step-1)
}
