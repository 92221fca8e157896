package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/pkg/enums"
)

// WalletTransaction records an immutable money movement. Reference carries
// the order invoice, deposit id, or lease id the movement settles; replaying
// a refund for the same reference is detected through it.
type WalletTransaction struct {
	ID               uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	Type             enums.WalletTransactionType `gorm:"column:type;type:wallet_transaction_type;not null"`
	AmountIDR        int64                       `gorm:"column:amount_idr;not null"`
	BalanceBeforeIDR int64                       `gorm:"column:balance_before_idr;not null"`
	BalanceAfterIDR  int64                       `gorm:"column:balance_after_idr;not null"`
	Reference        string                      `gorm:"column:reference;not null;index"`
	Description      string                      `gorm:"column:description;not null"`
	CreatedAt        time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
