package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
)

// StringList stores a list of ids in a jsonb column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for string list", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	*l = out
	return nil
}

// ScheduledEmailModel is the persistence model for the scheduled_emails table.
type ScheduledEmailModel struct {
	ID            string                      `gorm:"type:uuid;primaryKey"`
	CampaignID    string                      `gorm:"type:uuid;not null"`
	LeadID        string                      `gorm:"type:uuid;not null"`
	OwnerID       string                      `gorm:"type:uuid;not null"`
	TemplateID    *string                     `gorm:"type:uuid"`
	WorkflowID    *string                     `gorm:"type:uuid"`
	WorkflowStep  int                         `gorm:"not null;default:1"`
	ScheduledFor  time.Time                   `gorm:"type:timestamptz;not null"`
	Status        domain.ScheduledEmailStatus `gorm:"type:varchar(16);not null"`
	SentAt        *time.Time                  `gorm:"type:timestamptz"`
	FailedAt      *time.Time                  `gorm:"type:timestamptz"`
	FailureReason *string                     `gorm:"type:text"`
	EmailID       *string                     `gorm:"type:uuid"`
	RetryCount    int                         `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ScheduledEmailModel) TableName() string {
	return "scheduled_emails"
}

// CampaignModel is the persistence model for campaigns.
type CampaignModel struct {
	ID                   string                `gorm:"type:uuid;primaryKey"`
	OwnerID              string                `gorm:"type:uuid;not null"`
	Name                 string                `gorm:"type:varchar(255);not null"`
	Status               domain.CampaignStatus `gorm:"type:varchar(16);not null"`
	UseWorkflow          bool                  `gorm:"not null;default:false"`
	WorkflowID           *string               `gorm:"type:uuid"`
	EmailTemplateID      *string               `gorm:"type:uuid"`
	BatchIDs             StringList            `gorm:"type:jsonb;not null;default:'[]'"`
	BatchID              *string               `gorm:"type:uuid"`
	EmailsScheduledCount int                   `gorm:"not null;default:0"`
	EmailsSentCount      int                   `gorm:"not null;default:0"`
	EmailsFailedCount    int                   `gorm:"not null;default:0"`
	TotalLeadsTargeted   int                   `gorm:"not null;default:0"`
	StartedAt            *time.Time            `gorm:"type:timestamptz"`
	PausedAt             *time.Time            `gorm:"type:timestamptz"`
	CompletedAt          *time.Time            `gorm:"type:timestamptz"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// CampaignLeadModel is the explicit campaign-to-lead assignment.
type CampaignLeadModel struct {
	CampaignID string `gorm:"type:uuid;primaryKey"`
	LeadID     string `gorm:"type:uuid;primaryKey"`
	CreatedAt  time.Time
}

func (CampaignLeadModel) TableName() string {
	return "campaign_leads"
}

// LeadModel is the persistence model for leads.
type LeadModel struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	OwnerID     string  `gorm:"type:uuid;not null"`
	BatchID     *string `gorm:"type:uuid"`
	Email       string  `gorm:"type:varchar(320);not null"`
	FirstName   string  `gorm:"type:varchar(255)"`
	LastName    string  `gorm:"type:varchar(255)"`
	CompanyName string  `gorm:"type:varchar(255)"`
	JobTitle    string  `gorm:"type:varchar(255)"`
	Website     string  `gorm:"type:varchar(512)"`
	Industry    string  `gorm:"type:varchar(255)"`
	City        string  `gorm:"type:varchar(255)"`
	Country     string  `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (LeadModel) TableName() string {
	return "leads"
}

// EmailTemplateModel is the persistence model for email_templates.
type EmailTemplateModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	OwnerID   string `gorm:"type:uuid;not null"`
	Name      string `gorm:"type:varchar(255);not null"`
	Subject   string `gorm:"type:text;not null"`
	BodyText  string `gorm:"type:text"`
	BodyHTML  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (EmailTemplateModel) TableName() string {
	return "email_templates"
}

// WorkflowModel is the persistence model for workflows.
type WorkflowModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	OwnerID   string `gorm:"type:uuid;not null"`
	Name      string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WorkflowModel) TableName() string {
	return "workflows"
}

// WorkflowStepModel is the persistence model for workflow_steps.
type WorkflowStepModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	WorkflowID      string `gorm:"type:uuid;not null"`
	StepNumber      int    `gorm:"not null"`
	DelayDays       int    `gorm:"not null;default:0"`
	EmailTemplateID string `gorm:"type:uuid;not null"`
}

func (WorkflowStepModel) TableName() string {
	return "workflow_steps"
}

// EmailModel is the persistence model for emails, one row per provider hand-off.
type EmailModel struct {
	ID                string             `gorm:"type:uuid;primaryKey"`
	CampaignID        string             `gorm:"type:uuid;not null"`
	LeadID            string             `gorm:"type:uuid;not null"`
	ScheduledEmailID  *string            `gorm:"type:uuid"`
	ToAddress         string             `gorm:"type:varchar(320);not null"`
	Subject           string             `gorm:"type:text;not null"`
	BodyText          string             `gorm:"type:text"`
	BodyHTML          string             `gorm:"type:text"`
	FollowUpStage     string             `gorm:"type:varchar(32);not null"`
	Status            domain.EmailStatus `gorm:"type:varchar(16);not null"`
	ProviderMessageID *string            `gorm:"type:varchar(255)"`
	Error             *string            `gorm:"type:text"`
	SentAt            *time.Time         `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (EmailModel) TableName() string {
	return "emails"
}

func scheduledEmailModelFromDomain(e *domain.ScheduledEmail) *ScheduledEmailModel {
	if e == nil {
		return nil
	}

	return &ScheduledEmailModel{
		ID:            e.ID,
		CampaignID:    e.CampaignID,
		LeadID:        e.LeadID,
		OwnerID:       e.OwnerID,
		TemplateID:    e.TemplateID,
		WorkflowID:    e.WorkflowID,
		WorkflowStep:  e.WorkflowStep,
		ScheduledFor:  e.ScheduledFor,
		Status:        e.Status,
		SentAt:        e.SentAt,
		FailedAt:      e.FailedAt,
		FailureReason: e.FailureReason,
		EmailID:       e.EmailID,
		RetryCount:    e.RetryCount,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func scheduledEmailModelToDomain(m *ScheduledEmailModel) *domain.ScheduledEmail {
	if m == nil {
		return nil
	}

	step := m.WorkflowStep
	if step < 1 {
		step = 1
	}

	return &domain.ScheduledEmail{
		ID:            m.ID,
		CampaignID:    m.CampaignID,
		LeadID:        m.LeadID,
		OwnerID:       m.OwnerID,
		TemplateID:    m.TemplateID,
		WorkflowID:    m.WorkflowID,
		WorkflowStep:  step,
		ScheduledFor:  m.ScheduledFor,
		Status:        m.Status,
		SentAt:        m.SentAt,
		FailedAt:      m.FailedAt,
		FailureReason: m.FailureReason,
		EmailID:       m.EmailID,
		RetryCount:    m.RetryCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		Name:                 m.Name,
		Status:               m.Status,
		UseWorkflow:          m.UseWorkflow,
		WorkflowID:           m.WorkflowID,
		EmailTemplateID:      m.EmailTemplateID,
		BatchIDs:             append([]string(nil), m.BatchIDs...),
		BatchID:              m.BatchID,
		EmailsScheduledCount: m.EmailsScheduledCount,
		EmailsSentCount:      m.EmailsSentCount,
		EmailsFailedCount:    m.EmailsFailedCount,
		TotalLeadsTargeted:   m.TotalLeadsTargeted,
		StartedAt:            m.StartedAt,
		PausedAt:             m.PausedAt,
		CompletedAt:          m.CompletedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func leadModelToDomain(m *LeadModel) *domain.Lead {
	if m == nil {
		return nil
	}

	return &domain.Lead{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		BatchID:     m.BatchID,
		Email:       m.Email,
		FirstName:   m.FirstName,
		LastName:    m.LastName,
		CompanyName: m.CompanyName,
		JobTitle:    m.JobTitle,
		Website:     m.Website,
		Industry:    m.Industry,
		City:        m.City,
		Country:     m.Country,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func emailTemplateModelToDomain(m *EmailTemplateModel) *domain.EmailTemplate {
	if m == nil {
		return nil
	}

	return &domain.EmailTemplate{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		Subject:   m.Subject,
		BodyText:  m.BodyText,
		BodyHTML:  m.BodyHTML,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func workflowModelToDomain(m *WorkflowModel) *domain.Workflow {
	if m == nil {
		return nil
	}

	return &domain.Workflow{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func workflowStepModelToDomain(m *WorkflowStepModel) *domain.WorkflowStep {
	if m == nil {
		return nil
	}

	return &domain.WorkflowStep{
		ID:              m.ID,
		WorkflowID:      m.WorkflowID,
		StepNumber:      m.StepNumber,
		DelayDays:       m.DelayDays,
		EmailTemplateID: m.EmailTemplateID,
	}
}

func emailModelFromDomain(e *domain.Email) *EmailModel {
	if e == nil {
		return nil
	}

	return &EmailModel{
		ID:                e.ID,
		CampaignID:        e.CampaignID,
		LeadID:            e.LeadID,
		ScheduledEmailID:  e.ScheduledEmailID,
		ToAddress:         e.ToAddress,
		Subject:           e.Subject,
		BodyText:          e.BodyText,
		BodyHTML:          e.BodyHTML,
		FollowUpStage:     e.FollowUpStage,
		Status:            e.Status,
		ProviderMessageID: e.ProviderMessageID,
		Error:             e.Error,
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func emailModelToDomain(m *EmailModel) *domain.Email {
	if m == nil {
		return nil
	}

	return &domain.Email{
		ID:                m.ID,
		CampaignID:        m.CampaignID,
		LeadID:            m.LeadID,
		ScheduledEmailID:  m.ScheduledEmailID,
		ToAddress:         m.ToAddress,
		Subject:           m.Subject,
		BodyText:          m.BodyText,
		BodyHTML:          m.BodyHTML,
		FollowUpStage:     m.FollowUpStage,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		SentAt:            m.SentAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
