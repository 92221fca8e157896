package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/internal/provider/providertest"
	"github.com/example/topup-engine/internal/tiers"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
	"github.com/example/topup-engine/pkg/pagination"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func setupOrdersTestDB(t *testing.T) *gorm.DB {
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
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  invoice_code TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'created',
  payment_method TEXT NOT NULL,
  subtotal_idr INTEGER NOT NULL,
  discount_idr INTEGER NOT NULL DEFAULT 0,
  gateway_fee_idr INTEGER NOT NULL DEFAULT 0,
  total_idr INTEGER NOT NULL,
  expires_at DATETIME,
  delivered_at DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  variant_name TEXT NOT NULL,
  provider_code TEXT NOT NULL,
  provider_sku TEXT NOT NULL,
  target TEXT NOT NULL,
  qty INTEGER NOT NULL DEFAULT 1,
  unit_price_idr INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  provider_ref TEXT,
  payload TEXT,
  note TEXT,
  poll_attempts INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS tier_levels (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  min_transactions INTEGER NOT NULL,
  markup_percent TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS margin_configs (
  id TEXT PRIMARY KEY,
  category TEXT NOT NULL UNIQUE,
  base_percent TEXT NOT NULL,
  tier_enabled INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type ordersFixture struct {
	db     *gorm.DB
	svc    Service
	ledger ledger.Service
	fake   *providertest.Fake
	now    time.Time
}

func newOrdersFixture(t *testing.T) *ordersFixture {
	t.Helper()

	db := setupOrdersTestDB(t)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)

	tiersSvc, err := tiers.NewService(tiers.NewRepository(db))
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.MarginConfig{
		ID:          uuid.New(),
		Category:    "games",
		BasePercent: decimal.NewFromInt(5),
		TierEnabled: true,
	}).Error)

	fake := &providertest.Fake{}
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(enums.ProviderDigiflazz, fake))

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	fixture := &ordersFixture{db: db, ledger: ledgerSvc, fake: fake, now: now}
	svc, err := NewService(ServiceParams{
		Repo:            NewRepository(db),
		Tx:              gormTxRunner{db: db},
		Ledger:          ledgerSvc,
		Tiers:           tiersSvc,
		Providers:       registry,
		Locks:           keymutex.New(0),
		Log:             logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard}),
		PaymentExpiry:   15 * time.Minute,
		GatewayFeeIDR:   1000,
		MaxPollAttempts: 3,
		Now:             func() time.Time { return fixture.now },
	})
	require.NoError(t, err)
	fixture.svc = svc
	return fixture
}

func (f *ordersFixture) seedWallet(t *testing.T, balance int64) uuid.UUID {
	t.Helper()

	userID := uuid.New()
	require.NoError(t, f.db.Create(&models.Wallet{UserID: userID, BalanceIDR: balance}).Error)
	return userID
}

func (f *ordersFixture) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()

	wallet, err := f.ledger.Wallet(context.Background(), userID)
	require.NoError(t, err)
	return wallet.BalanceIDR
}

func gameItem(target string) CreateItemInput {
	return CreateItemInput{
		VariantName:  "100 Diamonds",
		Category:     "games",
		ProviderCode: enums.ProviderDigiflazz,
		ProviderSKU:  "ml100",
		Target:       target,
		Qty:          1,
	}
}

func TestCreateBalanceOrderChargesAndDispatches(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 50000)

	f.fake.QuoteFunc = func(ctx context.Context, p provider.QuoteParams) (int64, error) {
		return 10000, nil
	}
	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		return provider.PlaceResult{Ref: "dg-1", State: provider.StateSuccess, Detail: "SN123"}, nil
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	// Bronze tier (10%) on top of the 5% base: 10000 * 1.15 = 11500.
	assert.Equal(t, int64(11500), order.TotalIDR)
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, enums.ItemStatusSuccess, order.Items[0].Status)
	require.NotNil(t, order.Items[0].Payload)
	assert.Equal(t, "SN123", *order.Items[0].Payload)
	assert.Equal(t, int64(50000-11500), f.balance(t, userID))

	wallet, err := f.ledger.Wallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, wallet.CompletedCount)
}

func TestCreateRejectsInsufficientBalance(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 1000)

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	assert.Equal(t, int64(1000), f.balance(t, userID))
	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count, "rejected order must not persist")
}

func TestGatewayOrderAwaitsPayment(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodGateway,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, int64(11500+1000), order.TotalIDR, "gateway fee applies")
	require.NotNil(t, order.ExpiresAt)
	assert.Empty(t, f.fake.PlaceCalls, "no placement before payment")

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), order.ID))
	require.Len(t, f.fake.PlaceCalls, 1)

	// Replayed webhook confirmation is a no-op.
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), order.ID))
	assert.Len(t, f.fake.PlaceCalls, 1)
}

func TestPartialFailureRefundsOnlyFailedItem(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 100000)

	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		if p.Target == "good" {
			return provider.PlaceResult{Ref: "ok-1", State: provider.StateSuccess, Detail: "SN-OK"}, nil
		}
		return provider.PlaceResult{}, provider.Permanent(errors.New("sku disabled upstream"))
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("good"), gameItem("bad")},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusFailed, order.Status)

	var good, bad *models.OrderItem
	for i := range order.Items {
		switch order.Items[i].Target {
		case "good":
			good = &order.Items[i]
		case "bad":
			bad = &order.Items[i]
		}
	}
	require.NotNil(t, good)
	require.NotNil(t, bad)
	assert.Equal(t, enums.ItemStatusSuccess, good.Status)
	require.NotNil(t, good.Payload)
	assert.Equal(t, "SN-OK", *good.Payload, "delivered payload survives the order failing")
	assert.Equal(t, enums.ItemStatusFailed, bad.Status)

	// Charged 23000 for two items, refunded 11500 for the failed one.
	assert.Equal(t, int64(100000-23000+11500), f.balance(t, userID))

	wallet, err := f.ledger.Wallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, wallet.CompletedCount, "failed order does not count as completed")
}

func TestApplyItemResultIsIdempotent(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 50000)

	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		return provider.PlaceResult{Ref: "dg-2", State: provider.StatePending}, nil
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusProcessing, order.Status)
	itemID := order.Items[0].ID

	fail := ItemResultInput{
		OrderID: order.ID,
		ItemID:  itemID,
		Status:  enums.ItemStatusFailed,
	}
	require.NoError(t, f.svc.ApplyItemResult(context.Background(), fail))

	// A late success signal for the same item must not resurrect it.
	require.NoError(t, f.svc.ApplyItemResult(context.Background(), ItemResultInput{
		OrderID: order.ID,
		ItemID:  itemID,
		Status:  enums.ItemStatusSuccess,
	}))

	got, err := f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, got.Status)
	assert.Equal(t, enums.ItemStatusFailed, got.Items[0].Status)

	// Exactly one refund despite the replay.
	assert.Equal(t, int64(50000), f.balance(t, userID))
}

func TestCancelPendingOrder(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodGateway,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), order.ID, userID))

	got, err := f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, got.Status)
	require.NotNil(t, got.CanceledAt)

	// Second cancel is a no-op, cancel after processing is rejected.
	require.NoError(t, f.svc.Cancel(context.Background(), order.ID, userID))
}

func TestCancelProcessingOrderRejected(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 50000)

	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		return provider.PlaceResult{Ref: "dg-3", State: provider.StatePending}, nil
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), order.ID, userID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestExpireOnlyPastDeadline(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodGateway,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Expire(context.Background(), order.ID))
	got, err := f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, got.Status, "deadline not reached yet")

	f.now = f.now.Add(16 * time.Minute)
	require.NoError(t, f.svc.Expire(context.Background(), order.ID))
	got, err = f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, got.Status)
}

func TestLatePaymentForExpiredOrderIsParked(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodGateway,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	f.now = f.now.Add(20 * time.Minute)
	require.NoError(t, f.svc.Expire(context.Background(), order.ID))

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), order.ID))
	assert.Empty(t, f.fake.PlaceCalls, "expired order is never fulfilled")
	assert.Equal(t, order.TotalIDR, f.balance(t, userID), "captured funds land on the wallet")

	// The gateway retries its webhook; the credit must not double.
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), order.ID))
	assert.Equal(t, order.TotalIDR, f.balance(t, userID))
}

func TestPaidReplayOnFailedOrderCreditsNothing(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		if p.Target == "good" {
			return provider.PlaceResult{Ref: "gw-1", State: provider.StateSuccess, Detail: "SN-1"}, nil
		}
		return provider.PlaceResult{}, provider.Permanent(errors.New("sku disabled upstream"))
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodGateway,
		Items:         []CreateItemInput{gameItem("good"), gameItem("bad")},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), order.ID))

	refreshed, err := f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusFailed, refreshed.Status)
	assert.Equal(t, int64(11500), f.balance(t, userID), "only the failed line comes back")

	// The gateway retries its paid notification against the failed order.
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), order.ID))
	assert.Equal(t, int64(11500), f.balance(t, userID), "replayed paid signal credits nothing more")
}

func TestClaimStatusFirstWriterWins(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodGateway,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	repo := NewRepository(f.db)

	claimed, err := repo.ClaimStatus(context.Background(), order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusCanceled)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second writer racing the same transition loses: the status no
	// longer matches its expectation.
	claimed, err = repo.ClaimStatus(context.Background(), order.ID, enums.OrderStatusPendingPayment, enums.OrderStatusProcessing)
	require.NoError(t, err)
	assert.False(t, claimed)

	refreshed, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, refreshed.Status)
}

func TestRecordPollAttemptExhaustsBudget(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 50000)

	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		return provider.PlaceResult{Ref: "dg-4", State: provider.StatePending}, nil
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)
	itemID := order.Items[0].ID

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RecordPollAttempt(context.Background(), order.ID, itemID, "still pending"))
	}

	got, err := f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, got.Status)
	assert.Equal(t, enums.ItemStatusFailed, got.Items[0].Status)
	assert.Equal(t, int64(50000), f.balance(t, userID), "exhausted item is refunded")
}

func TestApplyProviderEventResolvesRefs(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 50000)

	f.fake.PlaceFunc = func(ctx context.Context, p provider.PlaceParams) (provider.PlaceResult, error) {
		return provider.PlaceResult{Ref: "dg-5", State: provider.StatePending}, nil
	}

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        userID,
		PaymentMethod: enums.PaymentMethodBalance,
		Items:         []CreateItemInput{gameItem("628123")},
	})
	require.NoError(t, err)

	payload := "SN-CB"
	require.NoError(t, f.svc.ApplyProviderEvent(context.Background(), ProviderEventInput{
		Ref:     "dg-5",
		Status:  enums.ItemStatusSuccess,
		Payload: &payload,
	}))

	got, err := f.svc.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, got.Status)
	require.NotNil(t, got.Items[0].Payload)
	assert.Equal(t, "SN-CB", *got.Items[0].Payload)

	err = f.svc.ApplyProviderEvent(context.Background(), ProviderEventInput{Ref: "unknown", Status: enums.ItemStatusSuccess})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListPagesNewestFirst(t *testing.T) {
	f := newOrdersFixture(t)
	userID := f.seedWallet(t, 0)

	base := f.now.Add(-time.Hour)
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, f.db.Create(&models.Order{
			ID:            ids[i],
			UserID:        userID,
			InvoiceCode:   fmt.Sprintf("INV-LIST-%d", i),
			Status:        enums.OrderStatusDelivered,
			PaymentMethod: enums.PaymentMethodBalance,
			SubtotalIDR:   1000,
			TotalIDR:      1000,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	page, next, err := f.svc.List(context.Background(), userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)
	require.NotEmpty(t, next)

	rest, last, err := f.svc.List(context.Background(), userID, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
	assert.Empty(t, last)

	_, _, err = f.svc.List(context.Background(), userID, pagination.Params{Cursor: "not-a-cursor"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
