package deposits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
)

// Repository manages persistence for balance deposits.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, deposit *models.Deposit) error
	FindByID(ctx context.Context, depositID uuid.UUID) (*models.Deposit, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Deposit, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Deposit, error)
	Update(ctx context.Context, deposit *models.Deposit) error
	ClaimStatus(ctx context.Context, depositID uuid.UUID, from, to enums.DepositStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a deposit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, deposit *models.Deposit) error {
	return r.db.WithContext(ctx).Create(deposit).Error
}

func (r *repository) FindByID(ctx context.Context, depositID uuid.UUID) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.db.WithContext(ctx).
		Where("id = ?", depositID).
		First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Deposit, error) {
	var deposits []models.Deposit
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&deposits).Error; err != nil {
		return nil, err
	}
	return deposits, nil
}

func (r *repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Deposit, error) {
	var deposits []models.Deposit
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.DepositStatusPendingPayment, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&deposits).Error; err != nil {
		return nil, err
	}
	return deposits, nil
}

func (r *repository) Update(ctx context.Context, deposit *models.Deposit) error {
	return r.db.WithContext(ctx).Save(deposit).Error
}

// ClaimStatus flips the deposit status only when it still holds the
// expected value, reporting whether this caller won the transition. The
// first committer wins even across processes: the conditional UPDATE
// waits on a concurrent writer's row lock and re-evaluates the predicate
// once it commits.
func (r *repository) ClaimStatus(ctx context.Context, depositID uuid.UUID, from, to enums.DepositStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Deposit{}).
		Where("id = ? AND status = ?", depositID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
