package domain

import (
	"strings"
	"time"
)

// Lead is a contact targeted by campaigns.
type Lead struct {
	ID          string
	OwnerID     string
	BatchID     *string
	Email       string
	FirstName   string
	LastName    string
	CompanyName string
	JobTitle    string
	Website     string
	Industry    string
	City        string
	Country     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (l *Lead) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
}
