package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/logger"
)

type expiredOrderReader interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

type expiredDepositReader interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Deposit, error)
}

type orderExpirer interface {
	Expire(ctx context.Context, orderID uuid.UUID) error
}

type depositExpirer interface {
	Expire(ctx context.Context, depositID uuid.UUID) error
}

// PaymentExpiryJobParams configure the unpaid-checkout sweep.
type PaymentExpiryJobParams struct {
	Logger     *logger.Logger
	Orders     expiredOrderReader
	Deposits   expiredDepositReader
	OrderSvc   orderExpirer
	DepositSvc depositExpirer
	BatchSize  int
	Now        func() time.Time
}

type paymentExpiryJob struct {
	logg       *logger.Logger
	orders     expiredOrderReader
	deposits   expiredDepositReader
	orderSvc   orderExpirer
	depositSvc depositExpirer
	batchSize  int
	now        func() time.Time
}

// NewPaymentExpiryJob builds the job that cancels orders and deposits whose
// payment deadline passed without a capture.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil || params.OrderSvc == nil {
		return nil, fmt.Errorf("orders reader and service required")
	}
	if params.Deposits == nil || params.DepositSvc == nil {
		return nil, fmt.Errorf("deposits reader and service required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &paymentExpiryJob{
		logg:       params.Logger,
		orders:     params.Orders,
		deposits:   params.Deposits,
		orderSvc:   params.OrderSvc,
		depositSvc: params.DepositSvc,
		batchSize:  params.BatchSize,
		now:        params.Now,
	}, nil
}

func (j *paymentExpiryJob) Name() string { return "payment_expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	now := j.now()
	var errs error

	orders, err := j.orders.ListExpiredPending(ctx, now, j.batchSize)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list expired orders: %w", err))
	}
	for _, order := range orders {
		if err := j.orderSvc.Expire(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
		}
	}

	deposits, err := j.deposits.ListExpiredPending(ctx, now, j.batchSize)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list expired deposits: %w", err))
	}
	for _, deposit := range deposits {
		if err := j.depositSvc.Expire(ctx, deposit.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire deposit %s: %w", deposit.ID, err))
		}
	}

	if n := len(orders) + len(deposits); n > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", n), "expired unpaid checkouts")
	}
	return errs
}
