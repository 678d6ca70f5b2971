package repository

import (
	"context"
	"errors"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	var model EmailTemplateModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emailTemplateModelToDomain(&model), nil
}
