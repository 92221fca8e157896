package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/pkg/enums"
)

const testSecret = "hook-secret"

type fakeOrderWebhookService struct {
	confirmed []string
	events    []orders.ProviderEventInput
}

func (f *fakeOrderWebhookService) ConfirmPaymentByInvoice(_ context.Context, invoice string) error {
	f.confirmed = append(f.confirmed, invoice)
	return nil
}

func (f *fakeOrderWebhookService) ApplyProviderEvent(_ context.Context, input orders.ProviderEventInput) error {
	f.events = append(f.events, input)
	return nil
}

type fakeDepositWebhookService struct {
	confirmed []uuid.UUID
}

func (f *fakeDepositWebhookService) ConfirmPayment(_ context.Context, depositID uuid.UUID) error {
	f.confirmed = append(f.confirmed, depositID)
	return nil
}

type fakeLeaseWebhookService struct {
	events []leases.ProviderEventInput
}

func (f *fakeLeaseWebhookService) ApplyProviderEvent(_ context.Context, input leases.ProviderEventInput) error {
	f.events = append(f.events, input)
	return nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = "1"
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "test:idemp:" + scope + ":" + id
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func newGuard(t *testing.T, scope string) *IdempotencyGuard {
	t.Helper()
	guard, err := NewIdempotencyGuard(newInMemoryStore(), time.Minute, scope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func post(handler http.HandlerFunc, path string, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("X-Callback-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhook_OrderPaidAndIdempotent(t *testing.T) {
	orderSvc := &fakeOrderWebhookService{}
	depositSvc := &fakeDepositWebhookService{}
	handler := PaymentWebhook(orderSvc, depositSvc, newGuard(t, "payment"), testSecret, nil)

	payload, _ := json.Marshal(PaymentEvent{
		EventID:       "evt-1",
		ReferenceType: "order",
		Reference:     "TRX260830-AB12CD34",
		Status:        "paid",
	})

	rec := post(handler, "/api/v1/webhooks/payment", payload, sign(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(orderSvc.confirmed) != 1 || orderSvc.confirmed[0] != "TRX260830-AB12CD34" {
		t.Fatalf("expected one confirm, got %v", orderSvc.confirmed)
	}

	rec2 := post(handler, "/api/v1/webhooks/payment", payload, sign(payload))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec2.Code)
	}
	if len(orderSvc.confirmed) != 1 {
		t.Fatalf("duplicate delivery must not confirm again, got %v", orderSvc.confirmed)
	}
}

func TestPaymentWebhook_DepositPaid(t *testing.T) {
	orderSvc := &fakeOrderWebhookService{}
	depositSvc := &fakeDepositWebhookService{}
	handler := PaymentWebhook(orderSvc, depositSvc, newGuard(t, "payment"), testSecret, nil)

	depositID := uuid.New()
	payload, _ := json.Marshal(PaymentEvent{
		EventID:       "evt-2",
		ReferenceType: "deposit",
		Reference:     depositID.String(),
		Status:        "paid",
	})

	rec := post(handler, "/api/v1/webhooks/payment", payload, sign(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(depositSvc.confirmed) != 1 || depositSvc.confirmed[0] != depositID {
		t.Fatalf("expected deposit confirm, got %v", depositSvc.confirmed)
	}
	if len(orderSvc.confirmed) != 0 {
		t.Fatal("order service must not be touched for deposit events")
	}
}

func TestPaymentWebhook_ExpiredAcknowledgedWithoutAction(t *testing.T) {
	orderSvc := &fakeOrderWebhookService{}
	depositSvc := &fakeDepositWebhookService{}
	handler := PaymentWebhook(orderSvc, depositSvc, newGuard(t, "payment"), testSecret, nil)

	payload, _ := json.Marshal(PaymentEvent{
		EventID:       "evt-3",
		ReferenceType: "order",
		Reference:     "TRX260830-AB12CD34",
		Status:        "expired",
	})

	rec := post(handler, "/api/v1/webhooks/payment", payload, sign(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(orderSvc.confirmed) != 0 {
		t.Fatal("expired event must not confirm payment")
	}
}

func TestPaymentWebhook_InvalidSignature(t *testing.T) {
	orderSvc := &fakeOrderWebhookService{}
	depositSvc := &fakeDepositWebhookService{}
	handler := PaymentWebhook(orderSvc, depositSvc, newGuard(t, "payment"), testSecret, nil)

	payload, _ := json.Marshal(PaymentEvent{EventID: "evt-4", ReferenceType: "order", Reference: "TRX", Status: "paid"})

	rec := post(handler, "/api/v1/webhooks/payment", payload, "deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	if rec2 := post(handler, "/api/v1/webhooks/payment", payload, ""); rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec2.Code)
	}
	if len(orderSvc.confirmed) != 0 {
		t.Fatal("unsigned events must not reach the service")
	}
}

func TestFulfillmentWebhook_AppliesResult(t *testing.T) {
	svc := &fakeOrderWebhookService{}
	handler := FulfillmentWebhook(svc, newGuard(t, "fulfillment"), testSecret, nil)

	serial := "SN-900-112"
	payload, _ := json.Marshal(FulfillmentEvent{
		Ref:    uuid.NewString(),
		Status: "success",
		Data:   &serial,
	})

	rec := post(handler, "/api/v1/webhooks/provider/fulfillment", payload, sign(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.events) != 1 {
		t.Fatalf("expected one event, got %d", len(svc.events))
	}
	if svc.events[0].Status != enums.ItemStatusSuccess || svc.events[0].Payload == nil || *svc.events[0].Payload != serial {
		t.Fatalf("unexpected event %+v", svc.events[0])
	}

	rec2 := post(handler, "/api/v1/webhooks/provider/fulfillment", payload, sign(payload))
	if rec2.Code != http.StatusOK || len(svc.events) != 1 {
		t.Fatalf("duplicate delivery must be dropped, got %d events", len(svc.events))
	}
}

func TestFulfillmentWebhook_RejectsUnknownStatus(t *testing.T) {
	svc := &fakeOrderWebhookService{}
	handler := FulfillmentWebhook(svc, newGuard(t, "fulfillment"), testSecret, nil)

	payload, _ := json.Marshal(FulfillmentEvent{Ref: uuid.NewString(), Status: "delivered"})

	rec := post(handler, "/api/v1/webhooks/provider/fulfillment", payload, sign(payload))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatal("invalid status must not reach the service")
	}
}

func TestSMSWebhook_AppliesCode(t *testing.T) {
	svc := &fakeLeaseWebhookService{}
	handler := SMSWebhook(svc, newGuard(t, "sms"), testSecret, nil)

	ref := uuid.NewString()
	payload, _ := json.Marshal(SMSEvent{Ref: ref, Code: "482910"})

	rec := post(handler, "/api/v1/webhooks/provider/sms", payload, sign(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.events) != 1 || svc.events[0].Ref != ref || svc.events[0].Code != "482910" {
		t.Fatalf("unexpected events %+v", svc.events)
	}

	rec2 := post(handler, "/api/v1/webhooks/provider/sms", payload, sign(payload))
	if rec2.Code != http.StatusOK || len(svc.events) != 1 {
		t.Fatalf("duplicate delivery must be dropped, got %d events", len(svc.events))
	}
}
