package controllers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/api/middleware"
	"github.com/example/topup-engine/pkg/db/models"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
)

func currentUserID(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user context")
	}
	return userID, nil
}

type orderItemView struct {
	ID           uuid.UUID `json:"id"`
	VariantName  string    `json:"variant_name"`
	ProviderCode string    `json:"provider_code"`
	ProviderSKU  string    `json:"provider_sku"`
	Target       string    `json:"target"`
	Qty          int       `json:"qty"`
	UnitPriceIDR int64     `json:"unit_price_idr"`
	Status       string    `json:"status"`
	Payload      *string   `json:"payload,omitempty"`
	Note         *string   `json:"note,omitempty"`
}

type orderView struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceCode   string          `json:"invoice_code"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	SubtotalIDR   int64           `json:"subtotal_idr"`
	DiscountIDR   int64           `json:"discount_idr"`
	GatewayFeeIDR int64           `json:"gateway_fee_idr"`
	TotalIDR      int64           `json:"total_idr"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CanceledAt    *time.Time      `json:"canceled_at,omitempty"`
	Items         []orderItemView `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

func newOrderView(order *models.Order) orderView {
	view := orderView{
		ID:            order.ID,
		InvoiceCode:   order.InvoiceCode,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		SubtotalIDR:   order.SubtotalIDR,
		DiscountIDR:   order.DiscountIDR,
		GatewayFeeIDR: order.GatewayFeeIDR,
		TotalIDR:      order.TotalIDR,
		ExpiresAt:     order.ExpiresAt,
		DeliveredAt:   order.DeliveredAt,
		CanceledAt:    order.CanceledAt,
		Items:         make([]orderItemView, 0, len(order.Items)),
		CreatedAt:     order.CreatedAt,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, orderItemView{
			ID:           item.ID,
			VariantName:  item.VariantName,
			ProviderCode: string(item.ProviderCode),
			ProviderSKU:  item.ProviderSKU,
			Target:       item.Target,
			Qty:          item.Qty,
			UnitPriceIDR: item.UnitPriceIDR,
			Status:       string(item.Status),
			Payload:      item.Payload,
			Note:         item.Note,
		})
	}
	return view
}

type orderListView struct {
	Orders     []orderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type depositView struct {
	ID            uuid.UUID  `json:"id"`
	AmountIDR     int64      `json:"amount_idr"`
	GatewayFeeIDR int64      `json:"gateway_fee_idr"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expires_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newDepositView(deposit *models.Deposit) depositView {
	return depositView{
		ID:            deposit.ID,
		AmountIDR:     deposit.AmountIDR,
		GatewayFeeIDR: deposit.GatewayFeeIDR,
		Status:        string(deposit.Status),
		ExpiresAt:     deposit.ExpiresAt,
		PaidAt:        deposit.PaidAt,
		CreatedAt:     deposit.CreatedAt,
	}
}

type leaseView struct {
	ID               uuid.UUID `json:"id"`
	Service          string    `json:"service"`
	Country          string    `json:"country"`
	Operator         string    `json:"operator"`
	PhoneNumber      string    `json:"phone_number"`
	ProviderCode     string    `json:"provider_code"`
	PriceIDR         int64     `json:"price_idr"`
	Status           string    `json:"status"`
	SmsCode          *string   `json:"sms_code,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	CancelEligibleAt time.Time `json:"cancel_eligible_at"`
	CreatedAt        time.Time `json:"created_at"`
}

func newLeaseView(lease *models.Lease) leaseView {
	return leaseView{
		ID:               lease.ID,
		Service:          lease.Service,
		Country:          lease.Country,
		Operator:         lease.Operator,
		PhoneNumber:      lease.PhoneNumber,
		ProviderCode:     string(lease.ProviderCode),
		PriceIDR:         lease.PriceIDR,
		Status:           string(lease.Status),
		SmsCode:          lease.SmsCode,
		ExpiresAt:        lease.ExpiresAt,
		CancelEligibleAt: lease.CancelEligibleAt,
		CreatedAt:        lease.CreatedAt,
	}
}

type walletView struct {
	BalanceIDR     int64  `json:"balance_idr"`
	CompletedCount int    `json:"completed_count"`
	Tier           string `json:"tier"`
}

type transactionView struct {
	ID               uuid.UUID `json:"id"`
	Type             string    `json:"type"`
	AmountIDR        int64     `json:"amount_idr"`
	BalanceBeforeIDR int64     `json:"balance_before_idr"`
	BalanceAfterIDR  int64     `json:"balance_after_idr"`
	Reference        string    `json:"reference"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
}

func newTransactionView(txn models.WalletTransaction) transactionView {
	return transactionView{
		ID:               txn.ID,
		Type:             string(txn.Type),
		AmountIDR:        txn.AmountIDR,
		BalanceBeforeIDR: txn.BalanceBeforeIDR,
		BalanceAfterIDR:  txn.BalanceAfterIDR,
		Reference:        txn.Reference,
		Description:      txn.Description,
		CreatedAt:        txn.CreatedAt,
	}
}
