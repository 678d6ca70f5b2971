package domain

import "time"

// EmailTemplate holds the subject and bodies rendered against a lead.
type EmailTemplate struct {
	ID        string
	OwnerID   string
	Name      string
	Subject   string
	BodyText  string
	BodyHTML  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
