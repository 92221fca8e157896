package deposits

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func setupDepositsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New())), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
  user_id TEXT PRIMARY KEY,
  balance_idr INTEGER NOT NULL DEFAULT 0,
  completed_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount_idr INTEGER NOT NULL,
  balance_before_idr INTEGER NOT NULL,
  balance_after_idr INTEGER NOT NULL,
  reference TEXT NOT NULL,
  description TEXT NOT NULL,
  created_at DATETIME
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_wallet_transactions_reference_type
  ON wallet_transactions (reference, type);`,
		`CREATE TABLE IF NOT EXISTS deposits (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  amount_idr INTEGER NOT NULL,
  gateway_fee_idr INTEGER NOT NULL DEFAULT 0,
  payment_method TEXT NOT NULL DEFAULT 'gateway',
  status TEXT NOT NULL DEFAULT 'pending_payment',
  expires_at DATETIME NOT NULL,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type depositsFixture struct {
	db     *gorm.DB
	svc    Service
	ledger ledger.Service
	now    time.Time
}

func newDepositsFixture(t *testing.T) *depositsFixture {
	t.Helper()

	db := setupDepositsTestDB(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)

	fixture := &depositsFixture{
		db:     db,
		ledger: ledgerSvc,
		now:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		Repo:          NewRepository(db),
		Tx:            gormTxRunner{db: db},
		Ledger:        ledgerSvc,
		Locks:         keymutex.New(0),
		Log:           logger.New(logger.Options{ServiceName: "deposits-test", Output: io.Discard}),
		PaymentExpiry: 15 * time.Minute,
		GatewayFeeIDR: 1000,
		Now:           func() time.Time { return fixture.now },
	})
	require.NoError(t, err)
	fixture.svc = svc
	return fixture
}

func (f *depositsFixture) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()

	wallet, err := f.ledger.Wallet(context.Background(), userID)
	require.NoError(t, err)
	return wallet.BalanceIDR
}

func TestConfirmPaymentCreditsOnce(t *testing.T) {
	f := newDepositsFixture(t)
	userID := uuid.New()

	deposit, err := f.svc.Create(context.Background(), CreateInput{UserID: userID, AmountIDR: 100000})
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusPendingPayment, deposit.Status)
	assert.Zero(t, f.balance(t, userID))

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), deposit.ID))
	assert.Equal(t, int64(100000), f.balance(t, userID))

	got, err := f.svc.Get(context.Background(), deposit.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	// Gateway webhook retry.
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), deposit.ID))
	assert.Equal(t, int64(100000), f.balance(t, userID))
}

func TestCreateRejectsBelowMinimum(t *testing.T) {
	f := newDepositsFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{UserID: uuid.New(), AmountIDR: 5000})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestExpireAndLateCapture(t *testing.T) {
	f := newDepositsFixture(t)
	userID := uuid.New()

	deposit, err := f.svc.Create(context.Background(), CreateInput{UserID: userID, AmountIDR: 50000})
	require.NoError(t, err)

	require.NoError(t, f.svc.Expire(context.Background(), deposit.ID))
	got, err := f.svc.Get(context.Background(), deposit.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusPendingPayment, got.Status, "deadline not reached yet")

	f.now = f.now.Add(20 * time.Minute)
	require.NoError(t, f.svc.Expire(context.Background(), deposit.ID))
	got, err = f.svc.Get(context.Background(), deposit.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusCanceled, got.Status)

	// The user paid right before expiry and the capture arrived late:
	// the wallet is still credited, exactly once.
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), deposit.ID))
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), deposit.ID))
	assert.Equal(t, int64(50000), f.balance(t, userID))
}

func TestClaimStatusFirstWriterWins(t *testing.T) {
	f := newDepositsFixture(t)
	userID := uuid.New()

	deposit, err := f.svc.Create(context.Background(), CreateInput{UserID: userID, AmountIDR: 50000})
	require.NoError(t, err)

	repo := NewRepository(f.db)

	// A capture webhook and the expiry sweep race for the same deposit.
	// Whoever writes first keeps the status; the loser sees zero rows.
	claimed, err := repo.ClaimStatus(context.Background(), deposit.ID, enums.DepositStatusPendingPayment, enums.DepositStatusPaid)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimStatus(context.Background(), deposit.ID, enums.DepositStatusPendingPayment, enums.DepositStatusCanceled)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.FindByID(context.Background(), deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusPaid, got.Status)
}

func TestCancelOwnershipAndIdempotency(t *testing.T) {
	f := newDepositsFixture(t)
	userID := uuid.New()

	deposit, err := f.svc.Create(context.Background(), CreateInput{UserID: userID, AmountIDR: 50000})
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), deposit.ID, uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "foreign deposit must look nonexistent")

	require.NoError(t, f.svc.Cancel(context.Background(), deposit.ID, userID))
	require.NoError(t, f.svc.Cancel(context.Background(), deposit.ID, userID))

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), deposit.ID))
	got, err := f.svc.Get(context.Background(), deposit.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusCanceled, got.Status, "late capture does not resurrect the deposit")
}
