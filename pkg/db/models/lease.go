package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/pkg/enums"
)

// Lease is a time-bounded exclusive rental of a virtual phone number. At most
// one non-terminal lease may exist per owner at any time.
type Lease struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index"`
	Service          string             `gorm:"column:service;not null"`
	Country          string             `gorm:"column:country;not null"`
	Operator         string             `gorm:"column:operator;not null;default:'any'"`
	PhoneNumber      string             `gorm:"column:phone_number;not null"`
	ProviderCode     enums.ProviderCode `gorm:"column:provider_code;type:provider_code;not null"`
	ProviderRef      string             `gorm:"column:provider_ref;not null"`
	WholesaleIDR     int64              `gorm:"column:wholesale_idr;not null"`
	PriceIDR         int64              `gorm:"column:price_idr;not null"`
	Status           enums.LeaseStatus  `gorm:"column:status;type:lease_status;not null;default:'waiting'"`
	SmsCode          *string            `gorm:"column:sms_code"`
	ExpiresAt        time.Time          `gorm:"column:expires_at;not null"`
	CancelEligibleAt time.Time          `gorm:"column:cancel_eligible_at;not null"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
