package leases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/pricing"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/internal/tiers"
	"github.com/example/topup-engine/pkg/db"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives the lease lifecycle. A lease is charged up front; it ends
// in exactly one of success (an SMS code arrived), cancelled (user gave the
// number back after the protected window), or refunded (the rental window
// closed with no code). The two losing outcomes return the full price.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Lease, error)
	Get(ctx context.Context, leaseID, userID uuid.UUID) (*models.Lease, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Lease, error)
	// Active returns the user's waiting lease, or nil when none is open.
	Active(ctx context.Context, userID uuid.UUID) (*models.Lease, error)
	// Cancel releases the number early. Rejected inside the protected
	// window so the provider is not farmed for free numbers.
	Cancel(ctx context.Context, leaseID, userID uuid.UUID) error
	// ApplyCode settles the lease as successful with the received code.
	ApplyCode(ctx context.Context, leaseID uuid.UUID, code string) error
	ApplyProviderEvent(ctx context.Context, input ProviderEventInput) error
	// Expire refunds a lease whose rental window closed without a code.
	Expire(ctx context.Context, leaseID uuid.UUID) error
}

// CreateInput captures a number rental request.
type CreateInput struct {
	UserID   uuid.UUID
	Provider enums.ProviderCode
	Service  string
	Country  string
	Operator string
}

// ProviderEventInput is an asynchronous SMS callback from the number
// provider.
type ProviderEventInput struct {
	Ref  string
	Code string
}

// ServiceParams packages the lease service dependencies.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Ledger    ledger.Service
	Tiers     tiers.Service
	Providers *provider.Registry
	Locks     *keymutex.KeyMutex
	Log       *logger.Logger

	TTL             time.Duration
	ProtectedWindow time.Duration
	MarginPercent   decimal.Decimal
	TierEnabled     bool

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

	ttl             time.Duration
	protectedWindow time.Duration
	marginPercent   decimal.Decimal
	tierEnabled     bool
	now             func() time.Time
}

// NewService builds a lease service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("leases repository required")
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
	if params.TTL <= 0 {
		params.TTL = 5 * time.Minute
	}
	if params.ProtectedWindow <= 0 {
		params.ProtectedWindow = 2 * time.Minute
	}
	if params.ProtectedWindow > params.TTL {
		return nil, fmt.Errorf("protected window %s exceeds lease ttl %s", params.ProtectedWindow, params.TTL)
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
		ttl:             params.TTL,
		protectedWindow: params.ProtectedWindow,
		marginPercent:   params.MarginPercent,
		tierEnabled:     params.TierEnabled,
		now:             params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Lease, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid provider %q", input.Provider))
	}
	if input.Service == "" || input.Country == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service and country are required")
	}
	if input.Operator == "" {
		input.Operator = "any"
	}

	active, err := s.repo.FindActiveByUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, pkgerrors.New(pkgerrors.CodeActiveLeaseExists, "finish or cancel the current number first")
	}

	adapter, err := s.providers.Adapter(input.Provider)
	if err != nil {
		return nil, err
	}
	wholesale, err := adapter.Quote(ctx, provider.QuoteParams{
		Service:  input.Service,
		Country:  input.Country,
		Operator: input.Operator,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "number quote failed")
	}

	price, err := s.price(ctx, input.UserID, wholesale)
	if err != nil {
		return nil, err
	}

	now := s.now()
	lease := &models.Lease{
		ID:               uuid.New(),
		UserID:           input.UserID,
		Service:          input.Service,
		Country:          input.Country,
		Operator:         input.Operator,
		ProviderCode:     input.Provider,
		WholesaleIDR:     wholesale,
		PriceIDR:         price,
		Status:           enums.LeaseStatusWaiting,
		ExpiresAt:        now.Add(s.ttl),
		CancelEligibleAt: now.Add(s.protectedWindow),
	}

	// Charge and claim the single active slot first; the partial unique
	// index on waiting leases settles concurrent claims.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.ledger.Debit(ctx, tx, ledger.MovementInput{
			UserID:      input.UserID,
			AmountIDR:   price,
			Reference:   lease.ID.String(),
			Description: fmt.Sprintf("number lease %s/%s", input.Service, input.Country),
		}); err != nil {
			return err
		}
		return s.repo.WithTx(tx).Create(ctx, lease)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "uniq_leases_active_per_user") {
			return nil, pkgerrors.New(pkgerrors.CodeActiveLeaseExists, "finish or cancel the current number first")
		}
		return nil, err
	}

	ctx = s.log.WithLeaseID(ctx, lease.ID.String())

	res, err := adapter.Place(ctx, provider.PlaceParams{
		RefID:    lease.ID.String(),
		Service:  input.Service,
		Country:  input.Country,
		Operator: input.Operator,
	})
	if err != nil {
		// No number was handed out: return the money and release the
		// slot in one commit.
		s.log.Error(ctx, "number placement failed", err)
		refundErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			lease.Status = enums.LeaseStatusRefunded
			if err := s.repo.WithTx(tx).Update(ctx, lease); err != nil {
				return err
			}
			_, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
				UserID:      input.UserID,
				AmountIDR:   price,
				Reference:   lease.ID.String(),
				Description: "number placement failed",
			})
			return err
		})
		if refundErr != nil {
			return nil, refundErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "number placement failed")
	}

	lease.PhoneNumber = res.Detail
	lease.ProviderRef = res.Ref
	if err := s.repo.Update(ctx, lease); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "lease created")
	return lease, nil
}

func (s *service) price(ctx context.Context, userID uuid.UUID, wholesale int64) (int64, error) {
	markup := decimal.Zero
	if s.tierEnabled {
		wallet, err := s.ledger.Wallet(ctx, userID)
		if err != nil {
			return 0, err
		}
		tier, err := s.tiers.TierFor(ctx, wallet.CompletedCount)
		if err != nil {
			return 0, err
		}
		markup = tier.MarkupPercent
	}
	return pricing.Quote(pricing.QuoteInput{
		WholesaleCost:     decimal.NewFromInt(wholesale),
		BaseMarginPercent: s.marginPercent,
		TierMarkupPercent: markup,
		TierEnabled:       s.tierEnabled,
	})
}

func (s *service) Get(ctx context.Context, leaseID, userID uuid.UUID) (*models.Lease, error) {
	if leaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lease id required")
	}
	lease, err := s.repo.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "lease not found")
	}
	if userID != uuid.Nil && lease.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "lease not found")
	}
	return lease, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Lease, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *service) Active(ctx context.Context, userID uuid.UUID) (*models.Lease, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.repo.FindActiveByUser(ctx, userID)
}

func (s *service) Cancel(ctx context.Context, leaseID, userID uuid.UUID) error {
	if leaseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "lease id required")
	}
	s.locks.Lock(leaseID.String())
	defer s.locks.Unlock(leaseID.String())

	var settled *models.Lease
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		lease, err := repo.FindByID(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "lease not found")
		}
		if userID != uuid.Nil && lease.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "lease not found")
		}
		if lease.Status == enums.LeaseStatusCancelled {
			return nil
		}
		if lease.Status != enums.LeaseStatusWaiting {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("lease already settled as %s", lease.Status))
		}
		if s.now().Before(lease.CancelEligibleAt) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cancellation opens at %s", lease.CancelEligibleAt.Format(time.RFC3339)))
		}

		claimed, err := repo.ClaimStatus(ctx, lease.ID, enums.LeaseStatusWaiting, enums.LeaseStatusCancelled)
		if err != nil {
			return err
		}
		if !claimed {
			// Lost the transition to a writer in another process.
			fresh, err := repo.FindByID(ctx, lease.ID)
			if err != nil {
				return err
			}
			if fresh != nil && fresh.Status == enums.LeaseStatusCancelled {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "lease settled concurrently")
		}
		lease.Status = enums.LeaseStatusCancelled
		if _, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
			UserID:      lease.UserID,
			AmountIDR:   lease.PriceIDR,
			Reference:   lease.ID.String(),
			Description: "lease cancelled",
		}); err != nil {
			return err
		}
		settled = lease
		return nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		s.releaseNumber(ctx, settled)
	}
	return nil
}

func (s *service) ApplyCode(ctx context.Context, leaseID uuid.UUID, code string) error {
	if leaseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "lease id required")
	}
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sms code required")
	}
	s.locks.Lock(leaseID.String())
	defer s.locks.Unlock(leaseID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		lease, err := repo.FindByID(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "lease not found")
		}
		if lease.Status != enums.LeaseStatusWaiting {
			return nil
		}
		claimed, err := repo.ClaimStatus(ctx, lease.ID, enums.LeaseStatusWaiting, enums.LeaseStatusSuccess)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		lease.Status = enums.LeaseStatusSuccess
		lease.SmsCode = &code
		return repo.Update(ctx, lease)
	})
}

func (s *service) ApplyProviderEvent(ctx context.Context, input ProviderEventInput) error {
	if input.Ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider ref required")
	}
	lease, err := s.resolveLease(ctx, input.Ref)
	if err != nil {
		return err
	}
	if lease == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no lease matches ref")
	}
	return s.ApplyCode(ctx, lease.ID, input.Code)
}

func (s *service) resolveLease(ctx context.Context, ref string) (*models.Lease, error) {
	if id, err := uuid.Parse(ref); err == nil {
		lease, err := s.repo.FindByID(ctx, id)
		if err != nil || lease != nil {
			return lease, err
		}
	}
	return s.repo.FindByProviderRef(ctx, ref)
}

func (s *service) Expire(ctx context.Context, leaseID uuid.UUID) error {
	if leaseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "lease id required")
	}
	s.locks.Lock(leaseID.String())
	defer s.locks.Unlock(leaseID.String())

	var settled *models.Lease
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		lease, err := repo.FindByID(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease == nil || lease.Status != enums.LeaseStatusWaiting {
			return nil
		}
		if s.now().Before(lease.ExpiresAt) {
			return nil
		}

		claimed, err := repo.ClaimStatus(ctx, lease.ID, enums.LeaseStatusWaiting, enums.LeaseStatusRefunded)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		lease.Status = enums.LeaseStatusRefunded
		if _, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
			UserID:      lease.UserID,
			AmountIDR:   lease.PriceIDR,
			Reference:   lease.ID.String(),
			Description: "lease expired without code",
		}); err != nil {
			return err
		}
		settled = lease
		return nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		s.releaseNumber(ctx, settled)
	}
	return nil
}

// releaseNumber tells the provider the number is free again. Best effort:
// the money side is already settled, and providers reclaim stale
// activations on their own.
func (s *service) releaseNumber(ctx context.Context, lease *models.Lease) {
	if lease.ProviderRef == "" {
		return
	}
	adapter, err := s.providers.Adapter(lease.ProviderCode)
	if err != nil {
		return
	}
	if err := adapter.Cancel(ctx, lease.ProviderRef); err != nil {
		s.log.Warn(s.log.WithLeaseID(ctx, lease.ID.String()), "provider number release failed: "+err.Error())
	}
}
