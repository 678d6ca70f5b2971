package repository

import (
	"context"
	"errors"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	CampaignID string
	Status     *domain.ScheduledEmailStatus
	Page       int
	PageSize   int
}

type StatusCount struct {
	Status domain.ScheduledEmailStatus `gorm:"column:status"`
	Count  int64                       `gorm:"column:count"`
}

type ScheduledEmailRepository interface {
	// CreateBatch inserts rows, silently skipping any whose
	// (campaign, lead, step) already exists, and returns the number inserted.
	CreateBatch(ctx context.Context, rows []*domain.ScheduledEmail) (int, error)
	GetByID(ctx context.Context, id string) (*domain.ScheduledEmail, error)
	List(ctx context.Context, params ListParams) ([]domain.ScheduledEmail, int64, error)
	ListDueOwners(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListDueForOwner(ctx context.Context, ownerID string, now time.Time, limit int) ([]domain.ScheduledEmail, error)
	MarkSent(ctx context.Context, id, emailID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error
	MarkSkipped(ctx context.Context, id, reason string) error
	CancelPending(ctx context.Context, campaignID string) (int64, error)
	ResumeCancelled(ctx context.Context, campaignID string, now time.Time, shift *time.Duration) (int64, error)
	ResetFailed(ctx context.Context, campaignID string, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, campaignID string) ([]StatusCount, error)
	CountPending(ctx context.Context, campaignID string) (int64, error)
}

type GormScheduledEmailRepo struct {
	db *gorm.DB
}

func NewGormScheduledEmailRepo(db *gorm.DB) *GormScheduledEmailRepo {
	return &GormScheduledEmailRepo{db: db}
}

func (r *GormScheduledEmailRepo) CreateBatch(ctx context.Context, rows []*domain.ScheduledEmail) (int, error) {
	models := make([]ScheduledEmailModel, 0, len(rows))
	for _, row := range rows {
		if model := scheduledEmailModelFromDomain(row); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "lead_id"}, {Name: "workflow_step"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *GormScheduledEmailRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledEmail, error) {
	var model ScheduledEmailModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduledEmailModelToDomain(&model), nil
}

func (r *GormScheduledEmailRepo) List(ctx context.Context, params ListParams) ([]domain.ScheduledEmail, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("campaign_id = ?", params.CampaignID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []ScheduledEmailModel
	err := query.
		Order("scheduled_for ASC, created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	rows := make([]domain.ScheduledEmail, 0, len(models))
	for i := range models {
		rows = append(rows, *scheduledEmailModelToDomain(&models[i]))
	}
	return rows, total, nil
}

// ListDueOwners returns owners with at least one due pending row, the owner
// whose oldest due row has waited longest first.
func (r *GormScheduledEmailRepo) ListDueOwners(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var owners []string
	err := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Select("owner_id").
		Where("status = ? AND scheduled_for <= ?", domain.ScheduledEmailPending, now).
		Group("owner_id").
		Order("MIN(scheduled_for) ASC").
		Limit(limit).
		Pluck("owner_id", &owners).Error
	if err != nil {
		return nil, err
	}
	return owners, nil
}

func (r *GormScheduledEmailRepo) ListDueForOwner(ctx context.Context, ownerID string, now time.Time, limit int) ([]domain.ScheduledEmail, error) {
	var models []ScheduledEmailModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND scheduled_for <= ?", ownerID, domain.ScheduledEmailPending, now).
		Order("scheduled_for ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rows := make([]domain.ScheduledEmail, 0, len(models))
	for i := range models {
		rows = append(rows, *scheduledEmailModelToDomain(&models[i]))
	}
	return rows, nil
}

// MarkSent records a completed hand-off. A row cancelled while its send was in
// flight is still recorded as sent, since the email did go out.
func (r *GormScheduledEmailRepo) MarkSent(ctx context.Context, id, emailID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("id = ? AND status IN ?", id, []domain.ScheduledEmailStatus{domain.ScheduledEmailPending, domain.ScheduledEmailCancelled}).
		Updates(map[string]any{
			"status":         domain.ScheduledEmailSent,
			"sent_at":        sentAt,
			"email_id":       emailID,
			"failure_reason": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormScheduledEmailRepo) MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("id = ? AND status IN ?", id, []domain.ScheduledEmailStatus{domain.ScheduledEmailPending, domain.ScheduledEmailCancelled}).
		Updates(map[string]any{
			"status":         domain.ScheduledEmailFailed,
			"failed_at":      failedAt,
			"failure_reason": reason,
			"retry_count":    gorm.Expr("retry_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormScheduledEmailRepo) MarkSkipped(ctx context.Context, id, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("id = ? AND status = ?", id, domain.ScheduledEmailPending).
		Updates(map[string]any{
			"status":         domain.ScheduledEmailSkipped,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormScheduledEmailRepo) CancelPending(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.ScheduledEmailPending).
		Update("status", domain.ScheduledEmailCancelled)
	return result.RowsAffected, result.Error
}

// ResumeCancelled moves cancelled rows back to pending. With a nil shift every
// row becomes due at now; otherwise each row keeps its offset, moved forward by
// shift and clamped to now.
func (r *GormScheduledEmailRepo) ResumeCancelled(ctx context.Context, campaignID string, now time.Time, shift *time.Duration) (int64, error) {
	updates := map[string]any{
		"status":        domain.ScheduledEmailPending,
		"scheduled_for": now,
	}
	if shift != nil {
		updates["scheduled_for"] = gorm.Expr(
			"GREATEST(scheduled_for + (? * INTERVAL '1 second'), ?)",
			shift.Seconds(), now,
		)
	}

	result := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.ScheduledEmailCancelled).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// ResetFailed makes failed rows due again. retry_count is kept.
func (r *GormScheduledEmailRepo) ResetFailed(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.ScheduledEmailFailed).
		Updates(map[string]any{
			"status":         domain.ScheduledEmailPending,
			"scheduled_for":  now,
			"failed_at":      nil,
			"failure_reason": nil,
		})
	return result.RowsAffected, result.Error
}

func (r *GormScheduledEmailRepo) CountByStatus(ctx context.Context, campaignID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormScheduledEmailRepo) CountPending(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ScheduledEmailModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.ScheduledEmailPending).
		Count(&count).Error
	return count, err
}
