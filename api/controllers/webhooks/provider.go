package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/example/topup-engine/api/responses"
	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
)

type providerOrderService interface {
	ApplyProviderEvent(ctx context.Context, input orders.ProviderEventInput) error
}

type providerLeaseService interface {
	ApplyProviderEvent(ctx context.Context, input leases.ProviderEventInput) error
}

// FulfillmentEvent is the upstream callback for a placed order item. Ref is
// the reference echoed back by the provider; Data carries the serial or
// voucher code on success.
type FulfillmentEvent struct {
	EventID string  `json:"event_id"`
	Ref     string  `json:"ref"`
	Status  string  `json:"status"`
	Data    *string `json:"data,omitempty"`
	Note    *string `json:"note,omitempty"`
}

// SMSEvent is the number provider's callback carrying a received code.
type SMSEvent struct {
	EventID string `json:"event_id"`
	Ref     string `json:"ref"`
	Code    string `json:"code"`
}

// FulfillmentWebhook applies an asynchronous provider outcome to the
// matching order item.
func FulfillmentWebhook(svc providerOrderService, guard webhookGuard, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, verr := readSignedBody(r, secret)
		if verr != nil {
			responses.WriteError(ctx, logg, w, verr)
			return
		}

		var event FulfillmentEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		status, err := enums.ParseItemStatus(event.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		eventID := strings.TrimSpace(event.EventID)
		if eventID == "" {
			eventID = event.Ref + ":" + event.Status
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

		err = svc.ApplyProviderEvent(ctx, orders.ProviderEventInput{
			Ref:     event.Ref,
			Status:  status,
			Payload: event.Data,
			Note:    event.Note,
		})
		if err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("fulfillment event %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}

// SMSWebhook settles a waiting lease with the received code.
func SMSWebhook(svc providerLeaseService, guard webhookGuard, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, verr := readSignedBody(r, secret)
		if verr != nil {
			responses.WriteError(ctx, logg, w, verr)
			return
		}

		var event SMSEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		eventID := strings.TrimSpace(event.EventID)
		if eventID == "" {
			eventID = event.Ref + ":" + event.Code
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

		err = svc.ApplyProviderEvent(ctx, leases.ProviderEventInput{
			Ref:  event.Ref,
			Code: event.Code,
		})
		if err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("sms event %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}

func readSignedBody(r *http.Request, secret string) ([]byte, error) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}

	sigHeader := r.Header.Get(signatureHeader)
	if sigHeader == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback signature missing")
	}
	if !validateSignature(payload, secret, sigHeader) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback signature")
	}
	return payload, nil
}
