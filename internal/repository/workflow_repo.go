package repository

import (
	"context"
	"errors"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Workflow, error)
	ListSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error)
	GetStep(ctx context.Context, workflowID string, stepNumber int) (*domain.WorkflowStep, error)
}

type GormWorkflowRepo struct {
	db *gorm.DB
}

func NewGormWorkflowRepo(db *gorm.DB) *GormWorkflowRepo {
	return &GormWorkflowRepo{db: db}
}

func (r *GormWorkflowRepo) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	var model WorkflowModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return workflowModelToDomain(&model), nil
}

// ListSteps returns the workflow's steps ordered by step number.
func (r *GormWorkflowRepo) ListSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	var models []WorkflowStepModel
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("step_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	steps := make([]domain.WorkflowStep, 0, len(models))
	for i := range models {
		steps = append(steps, *workflowStepModelToDomain(&models[i]))
	}
	return steps, nil
}

func (r *GormWorkflowRepo) GetStep(ctx context.Context, workflowID string, stepNumber int) (*domain.WorkflowStep, error) {
	var model WorkflowStepModel
	err := r.db.WithContext(ctx).
		Where("workflow_id = ? AND step_number = ?", workflowID, stepNumber).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return workflowStepModelToDomain(&model), nil
}
