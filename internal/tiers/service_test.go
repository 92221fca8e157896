package tiers

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/topup-engine/pkg/db/models"
)

type stubTiersRepo struct {
	levels  []models.TierLevel
	configs map[string]*models.MarginConfig
	err     error
}

func (s *stubTiersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubTiersRepo) ListActiveLevels(ctx context.Context) ([]models.TierLevel, error) {
	return s.levels, s.err
}

func (s *stubTiersRepo) GetMarginConfig(ctx context.Context, category string) (*models.MarginConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.configs[category], nil
}

func TestTierForWalksLadder(t *testing.T) {
	svc, err := NewService(&stubTiersRepo{levels: defaultLevels})
	require.NoError(t, err)

	tests := []struct {
		completed int
		want      string
	}{
		{0, "Bronze"},
		{1, "Bronze"},
		{2, "Silver"},
		{9, "Silver"},
		{10, "Gold"},
		{50, "Platinum"},
		{99, "Platinum"},
		{100, "Diamond"},
		{5000, "Diamond"},
	}
	for _, tt := range tests {
		tier, err := svc.TierFor(context.Background(), tt.completed)
		require.NoError(t, err)
		assert.Equal(t, tt.want, tier.Name, "completed=%d", tt.completed)
	}
}

func TestTierForFallsBackToDefaults(t *testing.T) {
	svc, err := NewService(&stubTiersRepo{})
	require.NoError(t, err)

	tier, err := svc.TierFor(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "Gold", tier.Name)
	assert.True(t, decimal.NewFromInt(6).Equal(tier.MarkupPercent))
}

func TestMarginForCombinesConfigAndTier(t *testing.T) {
	repo := &stubTiersRepo{
		levels: defaultLevels,
		configs: map[string]*models.MarginConfig{
			"games": {Category: "games", BasePercent: decimal.NewFromInt(5), TierEnabled: true},
			"flat":  {Category: "flat", BasePercent: decimal.NewFromInt(7), TierEnabled: false},
		},
	}
	svc, err := NewService(repo)
	require.NoError(t, err)

	margin, err := svc.MarginFor(context.Background(), "games", 3)
	require.NoError(t, err)
	assert.Equal(t, "Silver", margin.TierName)
	assert.True(t, decimal.NewFromInt(5).Equal(margin.BasePercent))
	assert.True(t, decimal.NewFromInt(8).Equal(margin.MarkupPercent))
	assert.True(t, margin.TierEnabled)

	flat, err := svc.MarginFor(context.Background(), "flat", 3)
	require.NoError(t, err)
	assert.False(t, flat.TierEnabled)
}

func TestMarginForUnknownCategory(t *testing.T) {
	svc, err := NewService(&stubTiersRepo{levels: defaultLevels})
	require.NoError(t, err)

	margin, err := svc.MarginFor(context.Background(), "unknown", 0)
	require.NoError(t, err)
	assert.True(t, margin.BasePercent.IsZero())
	assert.True(t, margin.TierEnabled)
}
