package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
)

// Service records money movements on user wallets. Every movement writes an
// immutable wallet transaction alongside the balance change; callers run
// debits and credits inside the same database transaction as the status
// change they settle.
type Service interface {
	// Debit charges the wallet and fails with CodeInsufficientBalance
	// when the balance does not cover the amount.
	Debit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	// Refund returns a previously charged amount. Replaying a refund for
	// a reference that already has one is a no-op returning nil, nil.
	Refund(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	// Deposit credits externally paid funds onto the wallet, with the
	// same per-reference replay guard as Refund.
	Deposit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	// HasRefund reports whether a refund was already recorded for the
	// reference.
	HasRefund(ctx context.Context, reference string) (bool, error)
	// HasDebit reports whether a charge was captured for the reference.
	HasDebit(ctx context.Context, reference string) (bool, error)
	IncrementCompleted(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

type service struct {
	repo Repository
}

// MovementInput describes one wallet movement. Reference ties the movement
// to the order invoice, deposit, or lease it settles.
type MovementInput struct {
	UserID      uuid.UUID
	AmountIDR   int64
	Reference   string
	Description string
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (i MovementInput) validate() error {
	if i.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if i.AmountIDR <= 0 {
		return fmt.Errorf("amount must be positive, got %d", i.AmountIDR)
	}
	if i.Reference == "" {
		return fmt.Errorf("reference is required")
	}
	return nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	ok, err := repo.TryDebit(ctx, input.UserID, input.AmountIDR)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "wallet balance does not cover the amount")
	}

	wallet, err := repo.GetWallet(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet %s vanished after debit", input.UserID)
	}

	txn := &models.WalletTransaction{
		ID:               uuid.New(),
		UserID:           input.UserID,
		Type:             enums.WalletTransactionTypeDebit,
		AmountIDR:        input.AmountIDR,
		BalanceBeforeIDR: wallet.BalanceIDR + input.AmountIDR,
		BalanceAfterIDR:  wallet.BalanceIDR,
		Reference:        input.Reference,
		Description:      input.Description,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Refund(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	return s.credit(ctx, tx, input, enums.WalletTransactionTypeRefund)
}

func (s *service) Deposit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	return s.credit(ctx, tx, input, enums.WalletTransactionTypeDeposit)
}

func (s *service) credit(ctx context.Context, tx *gorm.DB, input MovementInput, txnType enums.WalletTransactionType) (*models.WalletTransaction, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	exists, err := repo.HasTransaction(ctx, input.Reference, txnType)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	if err := repo.EnsureWallet(ctx, input.UserID); err != nil {
		return nil, err
	}
	if err := repo.Credit(ctx, input.UserID, input.AmountIDR); err != nil {
		return nil, err
	}
	wallet, err := repo.GetWallet(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet %s vanished after credit", input.UserID)
	}

	txn := &models.WalletTransaction{
		ID:               uuid.New(),
		UserID:           input.UserID,
		Type:             txnType,
		AmountIDR:        input.AmountIDR,
		BalanceBeforeIDR: wallet.BalanceIDR - input.AmountIDR,
		BalanceAfterIDR:  wallet.BalanceIDR,
		Reference:        input.Reference,
		Description:      input.Description,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) HasRefund(ctx context.Context, reference string) (bool, error) {
	if reference == "" {
		return false, fmt.Errorf("reference is required")
	}
	return s.repo.HasTransaction(ctx, reference, enums.WalletTransactionTypeRefund)
}

func (s *service) HasDebit(ctx context.Context, reference string) (bool, error) {
	if reference == "" {
		return false, fmt.Errorf("reference is required")
	}
	return s.repo.HasTransaction(ctx, reference, enums.WalletTransactionTypeDebit)
}

func (s *service) IncrementCompleted(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	return s.repo.WithTx(tx).IncrementCompleted(ctx, userID)
}

func (s *service) Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	wallet, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		if err := s.repo.EnsureWallet(ctx, userID); err != nil {
			return nil, err
		}
		return s.repo.GetWallet(ctx, userID)
	}
	return wallet, nil
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	return s.repo.ListTransactions(ctx, userID, limit)
}
