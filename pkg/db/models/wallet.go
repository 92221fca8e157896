package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's spendable balance and their completed-transaction
// counter, which drives tier derivation.
type Wallet struct {
	UserID         uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	BalanceIDR     int64     `gorm:"column:balance_idr;not null;default:0"`
	CompletedCount int       `gorm:"column:completed_count;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
