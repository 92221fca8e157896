package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/example/topup-engine/api/responses"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
)

const signatureHeader = "X-Callback-Signature"

type paymentOrderService interface {
	ConfirmPaymentByInvoice(ctx context.Context, invoice string) error
}

type paymentDepositService interface {
	ConfirmPayment(ctx context.Context, depositID uuid.UUID) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaymentEvent is the gateway capture callback. Reference carries the order
// invoice code or the deposit id depending on ReferenceType.
type PaymentEvent struct {
	EventID       string `json:"event_id"`
	ReferenceType string `json:"reference_type"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
}

// PaymentWebhook settles gateway captures for orders and deposits. Expiry
// and cancellation notices are acknowledged without touching state; the
// payment-expiry sweep owns those transitions on its own clock.
func PaymentWebhook(orderSvc paymentOrderService, depositSvc paymentDepositService, guard webhookGuard, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if orderSvc == nil || depositSvc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(signatureHeader)
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "callback signature missing"))
			return
		}
		if !validateSignature(payload, secret, sigHeader) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback signature"))
			return
		}

		var event PaymentEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		eventID := strings.TrimSpace(event.EventID)
		if eventID == "" {
			eventID = event.ReferenceType + ":" + event.Reference + ":" + event.Status
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := handlePaymentEvent(ctx, orderSvc, depositSvc, logg, event); err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("payment event %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}

func handlePaymentEvent(ctx context.Context, orderSvc paymentOrderService, depositSvc paymentDepositService, logg *logger.Logger, event PaymentEvent) error {
	if event.Status != "paid" {
		if logg != nil {
			ctx = logg.WithField(ctx, "payment_status", event.Status)
			logg.Info(ctx, "payment event acknowledged without action")
		}
		return nil
	}

	switch event.ReferenceType {
	case "order":
		if event.Reference == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "order reference missing")
		}
		return orderSvc.ConfirmPaymentByInvoice(ctx, event.Reference)
	case "deposit":
		depositID, err := uuid.Parse(event.Reference)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid deposit reference")
		}
		return depositSvc.ConfirmPayment(ctx, depositID)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown reference type")
	}
}

func validateSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
