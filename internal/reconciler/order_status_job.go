package reconciler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	"github.com/example/topup-engine/pkg/logger"
)

type processingOrderReader interface {
	ListProcessing(ctx context.Context, limit int) ([]models.Order, error)
}

type orderTransitioner interface {
	Dispatch(ctx context.Context, orderID uuid.UUID) error
	ApplyItemResult(ctx context.Context, input orders.ItemResultInput) error
	RecordPollAttempt(ctx context.Context, orderID, itemID uuid.UUID, note string) error
}

// OrderStatusJobParams configure the in-flight order sweep.
type OrderStatusJobParams struct {
	Logger    *logger.Logger
	Reader    processingOrderReader
	OrderSvc  orderTransitioner
	Providers *provider.Registry
	BatchSize int
}

type orderStatusJob struct {
	logg      *logger.Logger
	reader    processingOrderReader
	orderSvc  orderTransitioner
	providers *provider.Registry
	batchSize int
}

// NewOrderStatusJob builds the job that drives processing orders forward:
// it re-places items whose placement never reached the provider and polls
// the provider for items still awaiting an outcome. It is the safety net
// for lost provider callbacks.
func NewOrderStatusJob(params OrderStatusJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("processing order reader required")
	}
	if params.OrderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	return &orderStatusJob{
		logg:      params.Logger,
		reader:    params.Reader,
		orderSvc:  params.OrderSvc,
		providers: params.Providers,
		batchSize: params.BatchSize,
	}, nil
}

func (j *orderStatusJob) Name() string { return "order_status" }

func (j *orderStatusJob) Run(ctx context.Context) error {
	batch, err := j.reader.ListProcessing(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("list processing orders: %w", err)
	}

	var errs error
	for _, order := range batch {
		if err := j.reconcileOrder(ctx, order); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
		}
	}
	return errs
}

func (j *orderStatusJob) reconcileOrder(ctx context.Context, order models.Order) error {
	var errs error
	needsDispatch := false

	for _, item := range order.Items {
		if item.Status.IsTerminal() {
			continue
		}
		if item.ProviderRef == nil {
			needsDispatch = true
			continue
		}
		if err := j.pollItem(ctx, order, item); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if needsDispatch {
		if err := j.orderSvc.Dispatch(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dispatch: %w", err))
		}
	}
	return errs
}

func (j *orderStatusJob) pollItem(ctx context.Context, order models.Order, item models.OrderItem) error {
	adapter, err := j.providers.Adapter(item.ProviderCode)
	if err != nil {
		return err
	}

	res, err := adapter.PollStatus(ctx, *item.ProviderRef)
	if err != nil {
		if provider.IsPermanent(err) {
			note := err.Error()
			return j.orderSvc.ApplyItemResult(ctx, orders.ItemResultInput{
				OrderID: order.ID,
				ItemID:  item.ID,
				Status:  enums.ItemStatusFailed,
				Note:    &note,
			})
		}
		return j.orderSvc.RecordPollAttempt(ctx, order.ID, item.ID, err.Error())
	}

	switch res.State {
	case provider.StateSuccess, provider.StateFailed:
		result := orders.ItemResultInput{
			OrderID: order.ID,
			ItemID:  item.ID,
			Status:  enums.ItemStatusSuccess,
		}
		if res.State == provider.StateFailed {
			result.Status = enums.ItemStatusFailed
		}
		if res.Detail != "" {
			result.Payload = &res.Detail
		}
		if res.Note != "" {
			result.Note = &res.Note
		}
		return j.orderSvc.ApplyItemResult(ctx, result)
	default:
		return j.orderSvc.RecordPollAttempt(ctx, order.ID, item.ID, res.Note)
	}
}
