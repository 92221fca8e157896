package leases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
)

// Repository manages persistence for virtual-number leases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, lease *models.Lease) error
	FindByID(ctx context.Context, leaseID uuid.UUID) (*models.Lease, error)
	FindByProviderRef(ctx context.Context, ref string) (*models.Lease, error)
	// FindActiveByUser returns the user's non-terminal lease, if any.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Lease, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Lease, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Lease, error)
	ListWaiting(ctx context.Context, limit int) ([]models.Lease, error)
	Update(ctx context.Context, lease *models.Lease) error
	// ClaimStatus flips the lease status only when it still holds the
	// expected value, reporting whether this caller won the transition.
	ClaimStatus(ctx context.Context, leaseID uuid.UUID, from, to enums.LeaseStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a lease repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, lease *models.Lease) error {
	return r.db.WithContext(ctx).Create(lease).Error
}

func (r *repository) FindByID(ctx context.Context, leaseID uuid.UUID) (*models.Lease, error) {
	var lease models.Lease
	err := r.db.WithContext(ctx).
		Where("id = ?", leaseID).
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, ref string) (*models.Lease, error) {
	var lease models.Lease
	err := r.db.WithContext(ctx).
		Where("provider_ref = ?", ref).
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (r *repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Lease, error) {
	var lease models.Lease
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.LeaseStatusWaiting).
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Lease, error) {
	var leases []models.Lease
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&leases).Error; err != nil {
		return nil, err
	}
	return leases, nil
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Lease, error) {
	var leases []models.Lease
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.LeaseStatusWaiting, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&leases).Error; err != nil {
		return nil, err
	}
	return leases, nil
}

func (r *repository) ListWaiting(ctx context.Context, limit int) ([]models.Lease, error) {
	var leases []models.Lease
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.LeaseStatusWaiting).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&leases).Error; err != nil {
		return nil, err
	}
	return leases, nil
}

func (r *repository) Update(ctx context.Context, lease *models.Lease) error {
	return r.db.WithContext(ctx).Save(lease).Error
}

// ClaimStatus performs the transition as a conditional UPDATE. The losing
// side of a concurrent settle matches zero rows: the UPDATE waits on the
// winner's row lock and re-evaluates the status predicate against the
// committed row, so terminal states are first-committer-wins even across
// processes.
func (r *repository) ClaimStatus(ctx context.Context, leaseID uuid.UUID, from, to enums.LeaseStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Lease{}).
		Where("id = ? AND status = ?", leaseID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
