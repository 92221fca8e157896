package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/logger"
)

type leaseReader interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Lease, error)
	ListWaiting(ctx context.Context, limit int) ([]models.Lease, error)
}

type leaseTransitioner interface {
	ApplyCode(ctx context.Context, leaseID uuid.UUID, code string) error
	Expire(ctx context.Context, leaseID uuid.UUID) error
}

// LeaseJobParams configure the lease sweep.
type LeaseJobParams struct {
	Logger    *logger.Logger
	Reader    leaseReader
	LeaseSvc  leaseTransitioner
	Providers *provider.Registry
	BatchSize int
	Now       func() time.Time
}

type leaseJob struct {
	logg      *logger.Logger
	reader    leaseReader
	leaseSvc  leaseTransitioner
	providers *provider.Registry
	batchSize int
	now       func() time.Time
}

// NewLeaseJob builds the job that polls waiting numbers for SMS codes and
// refunds leases whose window closed. Polling covers providers that only
// expose codes by pull; the refund path is the guarantee that an unused
// number never keeps the money.
func NewLeaseJob(params LeaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("lease reader required")
	}
	if params.LeaseSvc == nil {
		return nil, fmt.Errorf("lease service required")
	}
	if params.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &leaseJob{
		logg:      params.Logger,
		reader:    params.Reader,
		leaseSvc:  params.LeaseSvc,
		providers: params.Providers,
		batchSize: params.BatchSize,
		now:       params.Now,
	}, nil
}

func (j *leaseJob) Name() string { return "lease_sweep" }

func (j *leaseJob) Run(ctx context.Context) error {
	var errs error

	expired, err := j.reader.ListExpired(ctx, j.now(), j.batchSize)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list expired leases: %w", err))
	}
	for _, lease := range expired {
		if err := j.leaseSvc.Expire(ctx, lease.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire lease %s: %w", lease.ID, err))
		}
	}

	waiting, err := j.reader.ListWaiting(ctx, j.batchSize)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list waiting leases: %w", err))
	}
	for _, lease := range waiting {
		if err := j.pollLease(ctx, lease); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("poll lease %s: %w", lease.ID, err))
		}
	}
	return errs
}

func (j *leaseJob) pollLease(ctx context.Context, lease models.Lease) error {
	if lease.ProviderRef == "" {
		return nil
	}
	adapter, err := j.providers.Adapter(lease.ProviderCode)
	if err != nil {
		return err
	}

	res, err := adapter.PollStatus(ctx, lease.ProviderRef)
	if err != nil {
		if provider.IsTransient(err) {
			return nil
		}
		return err
	}
	if res.State == provider.StateSuccess && res.Detail != "" {
		return j.leaseSvc.ApplyCode(ctx, lease.ID, res.Detail)
	}
	return nil
}
