package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/topup-engine/api/responses"
	"github.com/example/topup-engine/api/validators"
	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
)

type createLeasePayload struct {
	Provider string `json:"provider" validate:"required"`
	Service  string `json:"service" validate:"required"`
	Country  string `json:"country" validate:"required"`
	Operator string `json:"operator"`
}

// LeaseCreate rents a virtual number, charging the wallet up front.
func LeaseCreate(svc leases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lease service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload createLeasePayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		code, err := enums.ParseProviderCode(payload.Provider)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider code"))
			return
		}

		lease, err := svc.Create(ctx, leases.CreateInput{
			UserID:   userID,
			Provider: code,
			Service:  payload.Service,
			Country:  payload.Country,
			Operator: payload.Operator,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newLeaseView(lease))
	}
}

// LeaseGet returns one lease owned by the authenticated user.
func LeaseGet(svc leases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lease service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		leaseID, err := uuid.Parse(chi.URLParam(r, "leaseId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lease id"))
			return
		}

		lease, err := svc.Get(ctx, leaseID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newLeaseView(lease))
	}
}

// LeaseList returns the user's most recent leases.
func LeaseList(svc leases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lease service unavailable"))
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

		views := make([]leaseView, 0, len(list))
		for i := range list {
			views = append(views, newLeaseView(&list[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// LeaseActive returns the user's open lease, if one exists.
func LeaseActive(svc leases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lease service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		lease, err := svc.Active(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if lease == nil {
			responses.WriteSuccess(w, nil)
			return
		}

		responses.WriteSuccess(w, newLeaseView(lease))
	}
}

// LeaseCancel releases the number early, refunding outside the protected
// window.
func LeaseCancel(svc leases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lease service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		leaseID, err := uuid.Parse(chi.URLParam(r, "leaseId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lease id"))
			return
		}

		if err := svc.Cancel(ctx, leaseID, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		lease, err := svc.Get(ctx, leaseID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLeaseView(lease))
	}
}
