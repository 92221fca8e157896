package deposits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MinAmountIDR is the smallest accepted top-up.
const MinAmountIDR = 10000

// Service drives the deposit lifecycle: a deposit waits for a gateway
// capture, and confirmation credits the wallet in the same transaction that
// flips the status.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Deposit, error)
	Get(ctx context.Context, depositID, userID uuid.UUID) (*models.Deposit, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Deposit, error)
	ConfirmPayment(ctx context.Context, depositID uuid.UUID) error
	Cancel(ctx context.Context, depositID, userID uuid.UUID) error
	Expire(ctx context.Context, depositID uuid.UUID) error
}

// CreateInput captures a top-up request.
type CreateInput struct {
	UserID    uuid.UUID
	AmountIDR int64
}

// ServiceParams packages the deposit service dependencies.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Ledger ledger.Service
	Locks  *keymutex.KeyMutex
	Log    *logger.Logger

	PaymentExpiry time.Duration
	GatewayFeeIDR int64

	Now func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	ledger ledger.Service
	locks  *keymutex.KeyMutex
	log    *logger.Logger

	paymentExpiry time.Duration
	gatewayFeeIDR int64
	now           func() time.Time
}

// NewService builds a deposit service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("deposits repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
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
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		ledger:        params.Ledger,
		locks:         params.Locks,
		log:           params.Log,
		paymentExpiry: params.PaymentExpiry,
		gatewayFeeIDR: params.GatewayFeeIDR,
		now:           params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Deposit, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.AmountIDR < MinAmountIDR {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("minimum deposit is %d IDR", MinAmountIDR))
	}

	deposit := &models.Deposit{
		ID:            uuid.New(),
		UserID:        input.UserID,
		AmountIDR:     input.AmountIDR,
		GatewayFeeIDR: s.gatewayFeeIDR,
		PaymentMethod: enums.PaymentMethodGateway,
		Status:        enums.DepositStatusPendingPayment,
		ExpiresAt:     s.now().Add(s.paymentExpiry),
	}
	if err := s.repo.Create(ctx, deposit); err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithUserID(ctx, input.UserID.String()), "deposit created")
	return deposit, nil
}

func (s *service) Get(ctx context.Context, depositID, userID uuid.UUID) (*models.Deposit, error) {
	if depositID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deposit id required")
	}
	deposit, err := s.repo.FindByID(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if deposit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
	}
	if userID != uuid.Nil && deposit.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
	}
	return deposit, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Deposit, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *service) ConfirmPayment(ctx context.Context, depositID uuid.UUID) error {
	if depositID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "deposit id required")
	}
	s.locks.Lock(depositID.String())
	defer s.locks.Unlock(depositID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		deposit, err := repo.FindByID(ctx, depositID)
		if err != nil {
			return err
		}
		if deposit == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
		}
		if deposit.Status != enums.DepositStatusPendingPayment {
			// Paid already, or canceled before the capture arrived. A
			// late capture still credits the wallet once: the user's
			// money reached the gateway either way.
			if deposit.Status == enums.DepositStatusCanceled {
				_, err := s.ledger.Deposit(ctx, tx, ledger.MovementInput{
					UserID:      deposit.UserID,
					AmountIDR:   deposit.AmountIDR,
					Reference:   deposit.ID.String(),
					Description: "late deposit capture",
				})
				return err
			}
			return nil
		}

		claimed, err := repo.ClaimStatus(ctx, deposit.ID, enums.DepositStatusPendingPayment, enums.DepositStatusPaid)
		if err != nil {
			return err
		}
		if !claimed {
			// Another process settled the deposit while we waited on
			// the row. If it was a cancel, the capture still counts.
			fresh, err := repo.FindByID(ctx, depositID)
			if err != nil {
				return err
			}
			if fresh != nil && fresh.Status == enums.DepositStatusCanceled {
				_, err := s.ledger.Deposit(ctx, tx, ledger.MovementInput{
					UserID:      deposit.UserID,
					AmountIDR:   deposit.AmountIDR,
					Reference:   deposit.ID.String(),
					Description: "late deposit capture",
				})
				return err
			}
			return nil
		}

		if _, err := s.ledger.Deposit(ctx, tx, ledger.MovementInput{
			UserID:      deposit.UserID,
			AmountIDR:   deposit.AmountIDR,
			Reference:   deposit.ID.String(),
			Description: "balance deposit",
		}); err != nil {
			return err
		}

		now := s.now()
		deposit.Status = enums.DepositStatusPaid
		deposit.PaidAt = &now
		return repo.Update(ctx, deposit)
	})
}

func (s *service) Cancel(ctx context.Context, depositID, userID uuid.UUID) error {
	if depositID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "deposit id required")
	}
	s.locks.Lock(depositID.String())
	defer s.locks.Unlock(depositID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		deposit, err := repo.FindByID(ctx, depositID)
		if err != nil {
			return err
		}
		if deposit == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
		}
		if userID != uuid.Nil && deposit.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
		}
		if deposit.Status == enums.DepositStatusCanceled {
			return nil
		}
		if deposit.Status != enums.DepositStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending deposits can be canceled")
		}
		claimed, err := repo.ClaimStatus(ctx, deposit.ID, enums.DepositStatusPendingPayment, enums.DepositStatusCanceled)
		if err != nil {
			return err
		}
		if !claimed {
			fresh, err := repo.FindByID(ctx, depositID)
			if err != nil {
				return err
			}
			if fresh != nil && fresh.Status == enums.DepositStatusCanceled {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending deposits can be canceled")
		}
		return nil
	})
}

func (s *service) Expire(ctx context.Context, depositID uuid.UUID) error {
	if depositID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "deposit id required")
	}
	s.locks.Lock(depositID.String())
	defer s.locks.Unlock(depositID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		deposit, err := repo.FindByID(ctx, depositID)
		if err != nil {
			return err
		}
		if deposit == nil || deposit.Status != enums.DepositStatusPendingPayment {
			return nil
		}
		if s.now().Before(deposit.ExpiresAt) {
			return nil
		}
		_, err = repo.ClaimStatus(ctx, deposit.ID, enums.DepositStatusPendingPayment, enums.DepositStatusCanceled)
		return err
	})
}
