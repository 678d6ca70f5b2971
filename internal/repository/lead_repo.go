package repository

import (
	"context"
	"errors"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	ListByBatchIDs(ctx context.Context, ownerID string, batchIDs []string) ([]domain.Lead, error)
	ListAssignedToCampaign(ctx context.Context, campaignID string) ([]domain.Lead, error)
}

type GormLeadRepo struct {
	db *gorm.DB
}

func NewGormLeadRepo(db *gorm.DB) *GormLeadRepo {
	return &GormLeadRepo{db: db}
}

func (r *GormLeadRepo) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	var model LeadModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return leadModelToDomain(&model), nil
}

func (r *GormLeadRepo) ListByBatchIDs(ctx context.Context, ownerID string, batchIDs []string) ([]domain.Lead, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	var models []LeadModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND batch_id IN ?", ownerID, batchIDs).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return leadsToDomain(models), nil
}

func (r *GormLeadRepo) ListAssignedToCampaign(ctx context.Context, campaignID string) ([]domain.Lead, error) {
	var models []LeadModel
	err := r.db.WithContext(ctx).
		Joins("JOIN campaign_leads ON campaign_leads.lead_id = leads.id").
		Where("campaign_leads.campaign_id = ?", campaignID).
		Order("leads.created_at ASC, leads.id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return leadsToDomain(models), nil
}

func leadsToDomain(models []LeadModel) []domain.Lead {
	leads := make([]domain.Lead, 0, len(models))
	for i := range models {
		leads = append(leads, *leadModelToDomain(&models[i]))
	}
	return leads
}
