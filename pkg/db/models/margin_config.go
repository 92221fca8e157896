package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarginConfig sets the base margin per product category and whether tier
// markups apply on top of it. When TierEnabled is false every user pays the
// flat base-margin price.
type MarginConfig struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Category    string          `gorm:"column:category;not null;uniqueIndex"`
	BasePercent decimal.Decimal `gorm:"column:base_percent;type:numeric(5,2);not null"`
	TierEnabled bool            `gorm:"column:tier_enabled;not null;default:true"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
