package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/provider"
	"github.com/leadnexconnect/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// SenderIdentity is stamped on every outbound message.
type SenderIdentity struct {
	FromName  string
	FromEmail string
	ReplyTo   string
}

// OutboundEmail is a rendered email addressed to a lead.
type OutboundEmail struct {
	LeadID           string
	CampaignID       string
	ScheduledEmailID string
	Subject          string
	BodyText         string
	BodyHTML         string
	FollowUpStage    string
}

type DeliveryResult struct {
	EmailID           string
	ProviderMessageID string
}

// EmailDelivery hands rendered emails to the mail provider and keeps the
// sent-email record in step with the outcome.
type EmailDelivery struct {
	leads    repository.LeadRepository
	emails   repository.EmailRepository
	provider provider.Provider
	identity SenderIdentity
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newID    func() string
}

func NewEmailDelivery(
	leads repository.LeadRepository,
	emails repository.EmailRepository,
	mailProvider provider.Provider,
	identity SenderIdentity,
	logger *zap.Logger,
) (*EmailDelivery, error) {
	if leads == nil {
		return nil, errNilDependency("lead repository")
	}
	if emails == nil {
		return nil, errNilDependency("email repository")
	}
	if mailProvider == nil {
		return nil, errNilDependency("mail provider")
	}
	if strings.TrimSpace(identity.FromEmail) == "" {
		return nil, fmt.Errorf("%w: sender address is required", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailDelivery{
		leads:    leads,
		emails:   emails,
		provider: mailProvider,
		identity: identity,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (d *EmailDelivery) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

func (d *EmailDelivery) ProviderName() string {
	return d.provider.Name()
}

// SendEmail records the email as queued, calls the provider and marks the
// record sent or failed. A provider error is returned to the caller.
func (d *EmailDelivery) SendEmail(ctx context.Context, out OutboundEmail) (*DeliveryResult, error) {
	lead, err := d.leads.GetByID(ctx, out.LeadID)
	if err != nil {
		return nil, fmt.Errorf("load lead %s: %w", out.LeadID, err)
	}

	now := d.now().UTC()
	record := &domain.Email{
		ID:            d.newID(),
		CampaignID:    out.CampaignID,
		LeadID:        lead.ID,
		ToAddress:     strings.TrimSpace(lead.Email),
		Subject:       out.Subject,
		BodyText:      out.BodyText,
		BodyHTML:      out.BodyHTML,
		FollowUpStage: out.FollowUpStage,
		Status:        domain.EmailQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if out.ScheduledEmailID != "" {
		scheduledID := out.ScheduledEmailID
		record.ScheduledEmailID = &scheduledID
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := d.emails.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create email record: %w", err)
	}

	msg := provider.Message{
		To:        record.ToAddress,
		FromName:  d.identity.FromName,
		FromEmail: d.identity.FromEmail,
		ReplyTo:   d.identity.ReplyTo,
		Subject:   record.Subject,
		TextBody:  record.BodyText,
		HTMLBody:  record.BodyHTML,
		Tags: map[string]string{
			"campaign_id":     out.CampaignID,
			"lead_id":         lead.ID,
			"email_id":        record.ID,
			"follow_up_stage": out.FollowUpStage,
		},
	}

	start := d.now()
	resp, sendErr := d.provider.Send(ctx, msg)
	d.metrics.ObserveEmailSendDuration(d.provider.Name(), d.now().Sub(start))

	if sendErr != nil {
		if err := d.emails.MarkFailed(ctx, record.ID, sendErr.Error()); err != nil {
			return nil, fmt.Errorf("send via %s: %w (failed to mark email as failed: %v)", d.provider.Name(), sendErr, err)
		}
		return nil, fmt.Errorf("send via %s: %w", d.provider.Name(), sendErr)
	}

	result := &DeliveryResult{EmailID: record.ID}
	if resp != nil {
		result.ProviderMessageID = resp.MessageID
	}

	// The message is already out; a bookkeeping failure must not turn it
	// into a retry.
	if err := d.emails.MarkSent(ctx, record.ID, result.ProviderMessageID, d.now().UTC()); err != nil {
		d.logger.Error("failed to mark email as sent",
			zap.String("emailId", record.ID),
			zap.String("providerMessageId", result.ProviderMessageID),
			zap.Error(err),
		)
	}

	return result, nil
}
