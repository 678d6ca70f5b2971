package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, at time.Time) error
	AddScheduleCounters(ctx context.Context, id string, scheduled, leadsTargeted int) error
	IncrementSent(ctx context.Context, id string) error
	IncrementFailed(ctx context.Context, id string) error
	// MarkCompletedIfRunning completes the campaign only while it is running and
	// has no pending scheduled emails. It reports whether the row changed.
	MarkCompletedIfRunning(ctx context.Context, id string, at time.Time) (bool, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

// TransitionStatus moves the campaign from one status to another in a single
// conditional update. paused_at is left in place on resume so the scheduler
// can read how long the campaign was paused.
func (r *GormCampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: campaign cannot move from %s to %s", domain.ErrValidation, from, to)
	}

	updates := map[string]any{"status": to}
	switch {
	case from == domain.CampaignDraft && to == domain.CampaignRunning:
		updates["started_at"] = at
	case to == domain.CampaignPaused:
		updates["paused_at"] = at
	case to == domain.CampaignCompleted:
		updates["completed_at"] = at
	case from == domain.CampaignCompleted && to == domain.CampaignRunning:
		updates["completed_at"] = nil
	case to == domain.CampaignDraft:
		updates["started_at"] = nil
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: campaign %s is not %s", domain.ErrConflict, id, from)
	}
	return nil
}

func (r *GormCampaignRepo) AddScheduleCounters(ctx context.Context, id string, scheduled, leadsTargeted int) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"emails_scheduled_count": gorm.Expr("emails_scheduled_count + ?", scheduled),
			"total_leads_targeted":   leadsTargeted,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCampaignRepo) IncrementSent(ctx context.Context, id string) error {
	return r.increment(ctx, id, "emails_sent_count")
}

func (r *GormCampaignRepo) IncrementFailed(ctx context.Context, id string) error {
	return r.increment(ctx, id, "emails_failed_count")
}

func (r *GormCampaignRepo) increment(ctx context.Context, id, column string) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormCampaignRepo) MarkCompletedIfRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	pending := r.db.
		Model(&ScheduledEmailModel{}).
		Select("1").
		Where("campaign_id = ? AND status = ?", id, domain.ScheduledEmailPending)

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status = ?", id, domain.CampaignRunning).
		Where("NOT EXISTS (?)", pending).
		Updates(map[string]any{
			"status":       domain.CampaignCompleted,
			"completed_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
