package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/pkg/enums"
)

// Deposit is a standalone balance top-up: same lifecycle shape as an order
// but with a single synthetic item, and completion credits the wallet.
type Deposit struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	AmountIDR     int64               `gorm:"column:amount_idr;not null"`
	GatewayFeeIDR int64               `gorm:"column:gateway_fee_idr;not null;default:0"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null;default:'gateway'"`
	Status        enums.DepositStatus `gorm:"column:status;type:deposit_status;not null;default:'pending_payment'"`
	ExpiresAt     time.Time           `gorm:"column:expires_at;not null"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
