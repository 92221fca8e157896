package controllers

import (
	"net/http"

	"github.com/example/topup-engine/api/responses"
	"github.com/example/topup-engine/api/validators"
	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/tiers"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
)

// WalletGet returns the balance, completion count, and loyalty tier of the
// authenticated user's wallet.
func WalletGet(ledgerSvc ledger.Service, tierSvc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ledgerSvc == nil || tierSvc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wallet, err := ledgerSvc.Wallet(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tier, err := tierSvc.TierFor(ctx, wallet.CompletedCount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, walletView{
			BalanceIDR:     wallet.BalanceIDR,
			CompletedCount: wallet.CompletedCount,
			Tier:           tier.Name,
		})
	}
}

// WalletTransactions lists the user's most recent ledger movements.
func WalletTransactions(ledgerSvc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ledgerSvc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
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

		list, err := ledgerSvc.Transactions(ctx, userID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		views := make([]transactionView, 0, len(list))
		for _, txn := range list {
			views = append(views, newTransactionView(txn))
		}
		responses.WriteSuccess(w, views)
	}
}
