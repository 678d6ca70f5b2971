package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"github.com/leadnexconnect/campaign-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type CampaignService interface {
	StartCampaign(ctx context.Context, campaignID string) (*service.ScheduleResult, error)
	PauseCampaign(ctx context.Context, campaignID string) (int, error)
	ResumeCampaign(ctx context.Context, campaignID string) (int, error)
	RetryFailed(ctx context.Context, campaignID string) (int, error)
	GetCampaignEmailStats(ctx context.Context, campaignID string) (*domain.ScheduledEmailStats, error)
	ListScheduledEmails(ctx context.Context, params repository.ListParams) ([]domain.ScheduledEmail, int64, error)
}

type EmailSender interface {
	SendDueEmails(ctx context.Context) (service.SendDueResult, error)
	SendScheduledEmail(ctx context.Context, id string) (*service.SendResult, error)
}

type CampaignHandler struct {
	campaigns CampaignService
	sender    EmailSender
}

func NewCampaignHandler(campaigns CampaignService, sender EmailSender) (*CampaignHandler, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	return &CampaignHandler{campaigns: campaigns, sender: sender}, nil
}

func RegisterCampaignRoutes(router fiber.Router, campaigns CampaignService, sender EmailSender) error {
	h, err := NewCampaignHandler(campaigns, sender)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns/:id/start", h.StartCampaign)
	v1.Post("/campaigns/:id/pause", h.PauseCampaign)
	v1.Post("/campaigns/:id/resume", h.ResumeCampaign)
	v1.Post("/campaigns/:id/retry-failed", h.RetryFailed)
	v1.Get("/campaigns/:id/email-stats", h.GetEmailStats)
	v1.Get("/campaigns/:id/scheduled-emails", h.ListScheduledEmails)
	v1.Post("/scheduled-emails/:id/send", h.SendScheduledEmail)
	v1.Post("/sender/run", h.RunSender)

	return nil
}

type campaignActionResponse struct {
	CampaignID     string `json:"campaignId"`
	Status         string `json:"status,omitempty"`
	CancelledCount *int   `json:"cancelledCount,omitempty"`
	ResumedCount   *int   `json:"resumedCount,omitempty"`
	RetriedCount   *int   `json:"retriedCount,omitempty"`
}

type scheduledEmailResponse struct {
	ID            string     `json:"id"`
	CampaignID    string     `json:"campaignId"`
	LeadID        string     `json:"leadId"`
	TemplateID    *string    `json:"templateId,omitempty"`
	WorkflowID    *string    `json:"workflowId,omitempty"`
	WorkflowStep  int        `json:"workflowStep"`
	ScheduledFor  time.Time  `json:"scheduledFor"`
	Status        string     `json:"status"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	FailureReason *string    `json:"failureReason,omitempty"`
	EmailID       *string    `json:"emailId,omitempty"`
	RetryCount    int        `json:"retryCount"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`
}

type listScheduledEmailsResponse struct {
	Data []scheduledEmailResponse `json:"data"`
	Meta listMeta                 `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *CampaignHandler) StartCampaign(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	result, err := h.campaigns.StartCampaign(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	cancelled, err := h.campaigns.PauseCampaign(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(campaignActionResponse{
		CampaignID:     id,
		Status:         domain.CampaignPaused.String(),
		CancelledCount: &cancelled,
	})
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	resumed, err := h.campaigns.ResumeCampaign(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(campaignActionResponse{
		CampaignID:   id,
		Status:       domain.CampaignRunning.String(),
		ResumedCount: &resumed,
	})
}

func (h *CampaignHandler) RetryFailed(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	retried, err := h.campaigns.RetryFailed(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(campaignActionResponse{
		CampaignID:   id,
		RetriedCount: &retried,
	})
}

func (h *CampaignHandler) GetEmailStats(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	stats, err := h.campaigns.GetCampaignEmailStats(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *CampaignHandler) ListScheduledEmails(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}
	params.CampaignID = id

	rows, total, err := h.campaigns.ListScheduledEmails(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]scheduledEmailResponse, 0, len(rows))
	for _, row := range rows {
		data = append(data, toScheduledEmailResponse(row))
	}

	return c.Status(fiber.StatusOK).JSON(listScheduledEmailsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

// SendScheduledEmail reports a failed send as a 200 with the failed
// disposition, since the outcome was recorded on the row.
func (h *CampaignHandler) SendScheduledEmail(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return toHTTPError(err)
	}
	result, err := h.sender.SendScheduledEmail(c.Context(), id)
	if result != nil {
		return c.Status(fiber.StatusOK).JSON(result)
	}

	return toHTTPError(err)
}

func (h *CampaignHandler) RunSender(c *fiber.Ctx) error {
	result, err := h.sender.SendDueEmails(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// pathID returns the :id route parameter in canonical form. Ids are uuid
// columns, so anything else is rejected before it reaches the store.
func pathID(c *fiber.Ctx) (string, error) {
	raw := strings.TrimSpace(c.Params("id"))
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: id %q is not a valid uuid", domain.ErrValidation, raw)
	}
	return parsed.String(), nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseScheduledEmailStatus(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

func toScheduledEmailResponse(row domain.ScheduledEmail) scheduledEmailResponse {
	return scheduledEmailResponse{
		ID:            row.ID,
		CampaignID:    row.CampaignID,
		LeadID:        row.LeadID,
		TemplateID:    row.TemplateID,
		WorkflowID:    row.WorkflowID,
		WorkflowStep:  row.WorkflowStep,
		ScheduledFor:  row.ScheduledFor,
		Status:        row.Status.String(),
		SentAt:        row.SentAt,
		FailedAt:      row.FailedAt,
		FailureReason: row.FailureReason,
		EmailID:       row.EmailID,
		RetryCount:    row.RetryCount,
		CreatedAt:     row.CreatedAt,
	}
}
