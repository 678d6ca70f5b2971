package domain

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")

	// ErrConfiguration marks a campaign that cannot be scheduled as configured,
	// for example one with neither a workflow nor an email template.
	ErrConfiguration = errors.New("invalid campaign configuration")

	ErrCampaignNotRunning = errors.New("campaign not running")

	// ErrLeaseHeld is returned when another worker owns the lease for a campaign
	// or for the send cycle.
	ErrLeaseHeld = errors.New("lease held by another worker")
)
