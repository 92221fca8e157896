package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/topup-engine/api/responses"
	"github.com/example/topup-engine/api/validators"
	"github.com/example/topup-engine/internal/deposits"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
)

type createDepositPayload struct {
	AmountIDR int64 `json:"amount_idr" validate:"required,gt=0"`
}

// DepositCreate opens a wallet top-up awaiting gateway capture.
func DepositCreate(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload createDepositPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		deposit, err := svc.Create(ctx, deposits.CreateInput{
			UserID:    userID,
			AmountIDR: payload.AmountIDR,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newDepositView(deposit))
	}
}

// DepositGet returns one deposit owned by the authenticated user.
func DepositGet(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		depositID, err := uuid.Parse(chi.URLParam(r, "depositId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid deposit id"))
			return
		}

		deposit, err := svc.Get(ctx, depositID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newDepositView(deposit))
	}
}

// DepositList returns the user's most recent deposits.
func DepositList(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		list, err := svc.List(ctx, userID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		views := make([]depositView, 0, len(list))
		for i := range list {
			views = append(views, newDepositView(&list[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// DepositCancel aborts a deposit that has not been paid yet.
func DepositCancel(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		depositID, err := uuid.Parse(chi.URLParam(r, "depositId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid deposit id"))
			return
		}

		if err := svc.Cancel(ctx, depositID, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		deposit, err := svc.Get(ctx, depositID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newDepositView(deposit))
	}
}
