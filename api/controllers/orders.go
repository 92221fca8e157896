package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/topup-engine/api/responses"
	"github.com/example/topup-engine/api/validators"
	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
	"github.com/example/topup-engine/pkg/pagination"
)

type createOrderItemPayload struct {
	VariantName  string `json:"variant_name" validate:"required"`
	Category     string `json:"category" validate:"required"`
	ProviderCode string `json:"provider_code" validate:"required"`
	ProviderSKU  string `json:"provider_sku" validate:"required"`
	Target       string `json:"target" validate:"required"`
	Qty          int    `json:"qty" validate:"required,min=1"`
}

type createOrderPayload struct {
	PaymentMethod string                   `json:"payment_method" validate:"required,oneof=balance gateway"`
	Items         []createOrderItemPayload `json:"items" validate:"required,min=1,dive"`
}

// OrderCreate prices and persists a new order for the authenticated user.
func OrderCreate(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload createOrderPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := orders.CreateInput{
			UserID:        userID,
			PaymentMethod: enums.PaymentMethod(payload.PaymentMethod),
			Items:         make([]orders.CreateItemInput, 0, len(payload.Items)),
		}
		for _, item := range payload.Items {
			code, err := enums.ParseProviderCode(item.ProviderCode)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider code"))
				return
			}
			input.Items = append(input.Items, orders.CreateItemInput{
				VariantName:  item.VariantName,
				Category:     item.Category,
				ProviderCode: code,
				ProviderSKU:  item.ProviderSKU,
				Target:       item.Target,
				Qty:          item.Qty,
			})
		}

		order, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderView(order))
	}
}

// OrderGet returns one order owned by the authenticated user.
func OrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := svc.Get(ctx, orderID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderView(order))
	}
}

// OrderList returns the user's most recent orders.
func OrderList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, next, err := svc.List(ctx, userID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		views := make([]orderView, 0, len(list))
		for i := range list {
			views = append(views, newOrderView(&list[i]))
		}
		responses.WriteSuccess(w, orderListView{Orders: views, NextCursor: next})
	}
}

// OrderCancel aborts an order that has not been paid yet.
func OrderCancel(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		if err := svc.Cancel(ctx, orderID, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Get(ctx, orderID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderView(order))
	}
}
