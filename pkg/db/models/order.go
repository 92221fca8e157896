package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/pkg/enums"
)

// Order is the purchase aggregate. Total always satisfies
// total = subtotal - discount + gateway_fee; rows in a terminal status are
// never mutated again.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	InvoiceCode   string              `gorm:"column:invoice_code;not null;uniqueIndex"`
	Status        enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'created'"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	SubtotalIDR   int64               `gorm:"column:subtotal_idr;not null"`
	DiscountIDR   int64               `gorm:"column:discount_idr;not null;default:0"`
	GatewayFeeIDR int64               `gorm:"column:gateway_fee_idr;not null;default:0"`
	TotalIDR      int64               `gorm:"column:total_idr;not null"`
	ExpiresAt     *time.Time          `gorm:"column:expires_at"`
	DeliveredAt   *time.Time          `gorm:"column:delivered_at"`
	CanceledAt    *time.Time          `gorm:"column:canceled_at"`
	Items         []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
