package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/pricing"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/internal/tiers"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
	"github.com/example/topup-engine/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives the order lifecycle. All transitions are idempotent: a
// stale or replayed signal on an order that already moved on is a no-op.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	// ConfirmPayment moves a pending order to processing and dispatches
	// its items. Payment confirmed for an order that already expired is
	// refunded to the wallet instead.
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) error
	ConfirmPaymentByInvoice(ctx context.Context, invoice string) error
	// Cancel aborts an order that has not been paid yet.
	Cancel(ctx context.Context, orderID, userID uuid.UUID) error
	// Expire cancels a pending order whose payment deadline passed.
	Expire(ctx context.Context, orderID uuid.UUID) error
	// Dispatch places every unplaced item of a processing order.
	Dispatch(ctx context.Context, orderID uuid.UUID) error
	ApplyItemResult(ctx context.Context, input ItemResultInput) error
	ApplyProviderEvent(ctx context.Context, input ProviderEventInput) error
	// RecordPollAttempt bumps the poll counter for an item that is still
	// pending upstream and permanently fails it once the budget is
	// exhausted.
	RecordPollAttempt(ctx context.Context, orderID, itemID uuid.UUID, note string) error
}

// ServiceParams packages the order service dependencies.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Ledger    ledger.Service
	Tiers     tiers.Service
	Providers *provider.Registry
	Locks     *keymutex.KeyMutex
	Log       *logger.Logger

	PaymentExpiry   time.Duration
	GatewayFeeIDR   int64
	MaxPollAttempts int

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	ledger    ledger.Service
	tiers     tiers.Service
	providers *provider.Registry
	locks     *keymutex.KeyMutex
	log       *logger.Logger

	paymentExpiry   time.Duration
	gatewayFeeIDR   int64
	maxPollAttempts int
	now             func() time.Time
}

// NewService builds an order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tiers == nil {
		return nil, fmt.Errorf("tiers service required")
	}
	if params.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("key mutex required")
	}
	if params.Log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.PaymentExpiry <= 0 {
		params.PaymentExpiry = 15 * time.Minute
	}
	if params.MaxPollAttempts <= 0 {
		params.MaxPollAttempts = 20
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:            params.Repo,
		tx:              params.Tx,
		ledger:          params.Ledger,
		tiers:           params.Tiers,
		providers:       params.Providers,
		locks:           params.Locks,
		log:             params.Log,
		paymentExpiry:   params.PaymentExpiry,
		gatewayFeeIDR:   params.GatewayFeeIDR,
		maxPollAttempts: params.MaxPollAttempts,
		now:             params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}
	for i, item := range input.Items {
		if !item.ProviderCode.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: invalid provider %q", i, item.ProviderCode))
		}
		if item.ProviderSKU == "" || item.Target == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: sku and target are required", i))
		}
		if item.Qty < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: qty must be at least 1", i))
		}
	}

	wallet, err := s.ledger.Wallet(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        input.UserID,
		InvoiceCode:   invoiceCode(now),
		PaymentMethod: input.PaymentMethod,
	}

	var subtotal int64
	for _, in := range input.Items {
		unitPrice, err := s.priceItem(ctx, in, wallet.CompletedCount)
		if err != nil {
			return nil, err
		}
		subtotal += unitPrice * int64(in.Qty)
		order.Items = append(order.Items, models.OrderItem{
			ID:           uuid.New(),
			OrderID:      order.ID,
			VariantName:  in.VariantName,
			ProviderCode: in.ProviderCode,
			ProviderSKU:  in.ProviderSKU,
			Target:       in.Target,
			Qty:          in.Qty,
			UnitPriceIDR: unitPrice,
			Status:       enums.ItemStatusPending,
		})
	}

	order.SubtotalIDR = subtotal
	if input.PaymentMethod == enums.PaymentMethodGateway {
		order.GatewayFeeIDR = s.gatewayFeeIDR
	}
	order.TotalIDR = order.SubtotalIDR - order.DiscountIDR + order.GatewayFeeIDR

	switch input.PaymentMethod {
	case enums.PaymentMethodBalance:
		order.Status = enums.OrderStatusProcessing
	case enums.PaymentMethodGateway:
		order.Status = enums.OrderStatusPendingPayment
		expires := now.Add(s.paymentExpiry)
		order.ExpiresAt = &expires
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		if input.PaymentMethod == enums.PaymentMethodBalance {
			_, err := s.ledger.Debit(ctx, tx, ledger.MovementInput{
				UserID:      input.UserID,
				AmountIDR:   order.TotalIDR,
				Reference:   order.InvoiceCode,
				Description: "order " + order.InvoiceCode,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.log.WithOrderID(ctx, order.ID.String())
	s.log.Info(ctx, "order created")

	if order.Status == enums.OrderStatusProcessing {
		if err := s.Dispatch(ctx, order.ID); err != nil {
			// Placement failures are retried by the status sweep;
			// the order is already paid and persisted.
			s.log.Error(ctx, "initial dispatch incomplete", err)
		}
	}
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) priceItem(ctx context.Context, in CreateItemInput, completedCount int) (int64, error) {
	adapter, err := s.providers.Adapter(in.ProviderCode)
	if err != nil {
		return 0, err
	}
	wholesale, err := adapter.Quote(ctx, provider.QuoteParams{SKU: in.ProviderSKU, Qty: in.Qty})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "wholesale quote failed")
	}

	margin, err := s.tiers.MarginFor(ctx, in.Category, completedCount)
	if err != nil {
		return 0, err
	}
	return pricing.Quote(pricing.QuoteInput{
		WholesaleCost:     decimal.NewFromInt(wholesale),
		BaseMarginPercent: margin.BasePercent,
		TierMarkupPercent: margin.MarkupPercent,
		TierEnabled:       margin.TierEnabled,
	})
}

func (s *service) Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if userID != uuid.Nil && order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// List pages through the user's orders, newest first. The returned cursor
// is empty on the last page.
func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (s *service) ConfirmPaymentByInvoice(ctx context.Context, invoice string) error {
	order, err := s.repo.FindByInvoice(ctx, invoice)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.ConfirmPayment(ctx, order.ID)
}

func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	dispatch := false
	err := s.confirmPaymentTx(ctx, orderID, &dispatch)
	if err != nil {
		return err
	}

	if dispatch {
		ctx = s.log.WithOrderID(ctx, orderID.String())
		s.log.Info(ctx, "payment confirmed")
		if err := s.Dispatch(ctx, orderID); err != nil {
			s.log.Error(ctx, "dispatch after payment incomplete", err)
		}
	}
	return nil
}

// confirmPaymentTx performs the status flip under the order's stripe lock.
// Dispatching happens after the lock is released because item transitions
// take the same stripe.
func (s *service) confirmPaymentTx(ctx context.Context, orderID uuid.UUID, dispatch *bool) error {
	s.locks.Lock(orderID.String())
	defer s.locks.Unlock(orderID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}

		switch order.Status {
		case enums.OrderStatusProcessing, enums.OrderStatusDelivered:
			return nil
		case enums.OrderStatusFailed:
			// Failed orders already refunded their items one by one.
			// A replayed paid signal must not credit anything on top.
			return nil
		case enums.OrderStatusCanceled:
			// Funds were captured for an order that expired or was
			// canceled before any charge: park them on the wallet
			// instead of dropping them.
			_, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
				UserID:      order.UserID,
				AmountIDR:   order.TotalIDR,
				Reference:   order.InvoiceCode,
				Description: "late payment for " + order.InvoiceCode,
			})
			return err
		case enums.OrderStatusPendingPayment, enums.OrderStatusCreated:
			claimed, err := repo.ClaimStatus(ctx, order.ID, order.Status, enums.OrderStatusProcessing)
			if err != nil {
				return err
			}
			if !claimed {
				// Another process settled the order first. If it
				// expired it, the captured funds still need parking.
				fresh, err := repo.FindByID(ctx, orderID)
				if err != nil {
					return err
				}
				if fresh != nil && fresh.Status == enums.OrderStatusCanceled {
					_, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
						UserID:      order.UserID,
						AmountIDR:   order.TotalIDR,
						Reference:   order.InvoiceCode,
						Description: "late payment for " + order.InvoiceCode,
					})
					return err
				}
				return nil
			}
			order.Status = enums.OrderStatusProcessing
			order.ExpiresAt = nil
			if err := repo.UpdateOrder(ctx, order); err != nil {
				return err
			}
			*dispatch = true
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in unexpected status %s", order.Status))
		}
	})
}

func (s *service) Cancel(ctx context.Context, orderID, userID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	s.locks.Lock(orderID.String())
	defer s.locks.Unlock(orderID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if userID != uuid.Nil && order.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status == enums.OrderStatusCanceled {
			return nil
		}
		if order.Status != enums.OrderStatusPendingPayment && order.Status != enums.OrderStatusCreated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid orders can be canceled")
		}
		return s.cancelTx(ctx, tx, repo, order)
	})
}

func (s *service) Expire(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	s.locks.Lock(orderID.String())
	defer s.locks.Unlock(orderID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || order.Status != enums.OrderStatusPendingPayment {
			return nil
		}
		if order.ExpiresAt == nil || s.now().Before(*order.ExpiresAt) {
			return nil
		}
		return s.cancelTx(ctx, tx, repo, order)
	})
}

// cancelTx finalizes the cancel inside the caller's transaction, returning
// any captured charge in the same commit.
func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) error {
	claimed, err := repo.ClaimStatus(ctx, order.ID, order.Status, enums.OrderStatusCanceled)
	if err != nil {
		return err
	}
	if !claimed {
		// The order moved while we waited on the row. A fresh cancel
		// already landed is fine; anything else means payment won.
		fresh, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if fresh != nil && fresh.Status == enums.OrderStatusCanceled {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid orders can be canceled")
	}

	charged, err := s.ledger.HasDebit(ctx, order.InvoiceCode)
	if err != nil {
		return err
	}
	if charged {
		if _, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
			UserID:      order.UserID,
			AmountIDR:   order.TotalIDR,
			Reference:   order.InvoiceCode,
			Description: "canceled order " + order.InvoiceCode,
		}); err != nil {
			return err
		}
	}

	now := s.now()
	order.Status = enums.OrderStatusCanceled
	order.CanceledAt = &now
	return repo.UpdateOrder(ctx, order)
}

// invoiceCode builds a human-readable unique invoice such as
// TRX260830-1A2B3C4D.
func invoiceCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("TRX%s-%s", now.Format("060102"), suffix)
}
