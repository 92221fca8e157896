package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/internal/deposits"
	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/internal/orders"
	pkgAuth "github.com/example/topup-engine/pkg/auth"
	"github.com/example/topup-engine/pkg/config"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubOrderService struct{}

func (stubOrderService) Create(context.Context, orders.CreateInput) (*models.Order, error) {
	return &models.Order{ID: uuid.New()}, nil
}

func (stubOrderService) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: uuid.New()}, nil
}

func (stubOrderService) List(context.Context, uuid.UUID, pagination.Params) ([]models.Order, string, error) {
	return nil, "", nil
}

func (stubOrderService) ConfirmPayment(context.Context, uuid.UUID) error {
	return nil
}

func (stubOrderService) ConfirmPaymentByInvoice(context.Context, string) error {
	return nil
}

func (stubOrderService) Cancel(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (stubOrderService) Expire(context.Context, uuid.UUID) error {
	return nil
}

func (stubOrderService) Dispatch(context.Context, uuid.UUID) error {
	return nil
}

func (stubOrderService) ApplyItemResult(context.Context, orders.ItemResultInput) error {
	return nil
}

func (stubOrderService) ApplyProviderEvent(context.Context, orders.ProviderEventInput) error {
	return nil
}

func (stubOrderService) RecordPollAttempt(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

type stubDepositService struct{}

func (stubDepositService) Create(context.Context, deposits.CreateInput) (*models.Deposit, error) {
	return &models.Deposit{ID: uuid.New()}, nil
}

func (stubDepositService) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Deposit, error) {
	return &models.Deposit{ID: uuid.New()}, nil
}

func (stubDepositService) List(context.Context, uuid.UUID, int) ([]models.Deposit, error) {
	return nil, nil
}

func (stubDepositService) ConfirmPayment(context.Context, uuid.UUID) error {
	return nil
}

func (stubDepositService) Cancel(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (stubDepositService) Expire(context.Context, uuid.UUID) error {
	return nil
}

type stubLeaseService struct{}

func (stubLeaseService) Create(context.Context, leases.CreateInput) (*models.Lease, error) {
	return &models.Lease{ID: uuid.New()}, nil
}

func (stubLeaseService) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Lease, error) {
	return &models.Lease{ID: uuid.New()}, nil
}

func (stubLeaseService) List(context.Context, uuid.UUID, int) ([]models.Lease, error) {
	return nil, nil
}

func (stubLeaseService) Active(context.Context, uuid.UUID) (*models.Lease, error) {
	return nil, nil
}

func (stubLeaseService) Cancel(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (stubLeaseService) ApplyCode(context.Context, uuid.UUID, string) error {
	return nil
}

func (stubLeaseService) ApplyProviderEvent(context.Context, leases.ProviderEventInput) error {
	return nil
}

func (stubLeaseService) Expire(context.Context, uuid.UUID) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{
			Secret: "router-secret",
			Issuer: "topup-engine",
			TTL:    time.Hour,
		},
		Payment:  config.PaymentConfig{WebhookSecret: "pay-secret"},
		Provider: config.ProviderConfig{WebhookSecret: "prov-secret"},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	return NewRouter(Deps{
		Config:      cfg,
		Logger:      nil,
		DBPinger:    stubPinger{},
		RedisPinger: stubPinger{},
		Orders:      stubOrderService{},
		Deposits:    stubDepositService{},
		Leases:      stubLeaseService{},
	})
}

func TestHealthLiveIsPublic(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for liveness got %d", rec.Code)
	}
}

func TestHealthReadyPingsBackends(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for readiness got %d", rec.Code)
	}
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", rec.Code)
	}
}

func TestPrivateGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), uuid.New())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for authenticated list got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestPrivateGroupRejectsForeignIssuer(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	other := cfg.JWT
	other.Issuer = "someone-else"
	token, err := pkgAuth.MintAccessToken(other, time.Now(), uuid.New())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign issuer got %d", rec.Code)
	}
}

func TestWebhookRoutesAreMountedWithoutAuth(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(Deps{
		Config:      cfg,
		DBPinger:    stubPinger{},
		RedisPinger: stubPinger{},
		Orders:      stubOrderService{},
		Deposits:    stubDepositService{},
		Leases:      stubLeaseService{},
	})

	for _, path := range []string{
		"/api/v1/webhooks/payment",
		"/api/v1/webhooks/provider/fulfillment",
		"/api/v1/webhooks/provider/sms",
	} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusNotFound || rec.Code == http.StatusUnauthorized {
			t.Fatalf("expected %s mounted publicly, got %d", path, rec.Code)
		}
	}
}
