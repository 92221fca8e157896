package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TierLevel is one row of the tier table, ordered by MinTransactions
// ascending. A user's tier is the last level whose threshold they meet.
type TierLevel struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string          `gorm:"column:name;not null;uniqueIndex"`
	MinTransactions int             `gorm:"column:min_transactions;not null"`
	MarkupPercent   decimal.Decimal `gorm:"column:markup_percent;type:numeric(5,2);not null"`
	Active          bool            `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
