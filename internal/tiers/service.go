package tiers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/topup-engine/pkg/db/models"
)

// Default tier ladder used when the table has not been seeded. Thresholds
// count delivered orders; markups are percentage points added on top of the
// category base margin.
var defaultLevels = []models.TierLevel{
	{Name: "Bronze", MinTransactions: 0, MarkupPercent: decimal.NewFromInt(10), Active: true},
	{Name: "Silver", MinTransactions: 2, MarkupPercent: decimal.NewFromInt(8), Active: true},
	{Name: "Gold", MinTransactions: 10, MarkupPercent: decimal.NewFromInt(6), Active: true},
	{Name: "Platinum", MinTransactions: 50, MarkupPercent: decimal.NewFromInt(4), Active: true},
	{Name: "Diamond", MinTransactions: 100, MarkupPercent: decimal.NewFromInt(2), Active: true},
}

// Margin is the pricing configuration resolved for one user and category.
type Margin struct {
	Category      string
	BasePercent   decimal.Decimal
	TierName      string
	MarkupPercent decimal.Decimal
	TierEnabled   bool
}

// Service resolves tier levels and per-category margins.
type Service interface {
	TierFor(ctx context.Context, completedCount int) (models.TierLevel, error)
	MarginFor(ctx context.Context, category string, completedCount int) (Margin, error)
}

type service struct {
	repo Repository
}

// NewService wires a tier service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("tiers repository required")
	}
	return &service{repo: repo}, nil
}

// TierFor walks the ladder from the bottom and returns the highest level
// whose threshold completedCount meets.
func (s *service) TierFor(ctx context.Context, completedCount int) (models.TierLevel, error) {
	levels, err := s.repo.ListActiveLevels(ctx)
	if err != nil {
		return models.TierLevel{}, err
	}
	if len(levels) == 0 {
		levels = defaultLevels
	}

	current := levels[0]
	for _, level := range levels[1:] {
		if completedCount < level.MinTransactions {
			break
		}
		current = level
	}
	return current, nil
}

// MarginFor combines the category's margin config with the user's tier. An
// unknown category falls back to a zero base margin with tiers enabled, so a
// missing config row never blocks pricing.
func (s *service) MarginFor(ctx context.Context, category string, completedCount int) (Margin, error) {
	margin := Margin{Category: category, TierEnabled: true}

	config, err := s.repo.GetMarginConfig(ctx, category)
	if err != nil {
		return Margin{}, err
	}
	if config != nil {
		margin.BasePercent = config.BasePercent
		margin.TierEnabled = config.TierEnabled
	}

	tier, err := s.TierFor(ctx, completedCount)
	if err != nil {
		return Margin{}, err
	}
	margin.TierName = tier.Name
	margin.MarkupPercent = tier.MarkupPercent
	return margin, nil
}
