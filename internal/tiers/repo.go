package tiers

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/topup-engine/pkg/db/models"
)

// Repository manages persistence for tier levels and margin configs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActiveLevels(ctx context.Context) ([]models.TierLevel, error)
	GetMarginConfig(ctx context.Context, category string) (*models.MarginConfig, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a tier repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListActiveLevels(ctx context.Context) ([]models.TierLevel, error) {
	var levels []models.TierLevel
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("min_transactions ASC").
		Find(&levels).Error; err != nil {
		return nil, err
	}
	return levels, nil
}

func (r *repository) GetMarginConfig(ctx context.Context, category string) (*models.MarginConfig, error) {
	var config models.MarginConfig
	err := r.db.WithContext(ctx).
		Where("category = ?", category).
		First(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &config, nil
}
