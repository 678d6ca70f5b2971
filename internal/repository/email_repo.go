package repository

import (
	"context"
	"errors"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type EmailRepository interface {
	Create(ctx context.Context, e *domain.Email) error
	GetByID(ctx context.Context, id string) (*domain.Email, error)
	MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type GormEmailRepo struct {
	db *gorm.DB
}

func NewGormEmailRepo(db *gorm.DB) *GormEmailRepo {
	return &GormEmailRepo{db: db}
}

func (r *GormEmailRepo) Create(ctx context.Context, e *domain.Email) error {
	model := emailModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *emailModelToDomain(model)
	}
	return nil
}

func (r *GormEmailRepo) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	var model EmailModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error {
	updates := map[string]any{
		"status":  domain.EmailSent,
		"sent_at": sentAt,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	return r.update(ctx, id, updates)
}

func (r *GormEmailRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.update(ctx, id, map[string]any{
		"status": domain.EmailFailed,
		"error":  reason,
	})
}

func (r *GormEmailRepo) update(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
