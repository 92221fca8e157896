package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/pkg/enums"
)

// OrderItem captures the snapshot of each purchased variant. Unit price is
// frozen at purchase time; the provider status is tracked per item because
// an order may partially succeed.
type OrderItem struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	VariantName  string             `gorm:"column:variant_name;not null"`
	ProviderCode enums.ProviderCode `gorm:"column:provider_code;type:provider_code;not null"`
	ProviderSKU  string             `gorm:"column:provider_sku;not null"`
	Target       string             `gorm:"column:target;not null"`
	Qty          int                `gorm:"column:qty;not null;default:1"`
	UnitPriceIDR int64              `gorm:"column:unit_price_idr;not null"`
	Status       enums.ItemStatus   `gorm:"column:status;type:item_status;not null;default:'pending'"`
	ProviderRef  *string            `gorm:"column:provider_ref"`
	Payload      *string            `gorm:"column:payload"`
	Note         *string            `gorm:"column:note"`
	PollAttempts int                `gorm:"column:poll_attempts;not null;default:0"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// ValueIDR is the settled value of the item (unit price times quantity).
func (i OrderItem) ValueIDR() int64 {
	return i.UnitPriceIDR * int64(i.Qty)
}
