package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/example/topup-engine/api/responses"
	"github.com/example/topup-engine/api/validators"
	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/pricing"
	"github.com/example/topup-engine/internal/tiers"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
	"github.com/example/topup-engine/pkg/logger"
)

type pricingQuotePayload struct {
	Category     string `json:"category" validate:"required"`
	WholesaleIDR int64  `json:"wholesale_idr" validate:"required,gt=0"`
}

type pricingQuoteView struct {
	Category      string `json:"category"`
	WholesaleIDR  int64  `json:"wholesale_idr"`
	SellPriceIDR  int64  `json:"sell_price_idr"`
	BasePercent   string `json:"base_percent"`
	Tier          string `json:"tier"`
	MarkupPercent string `json:"markup_percent"`
	TierEnabled   bool   `json:"tier_enabled"`
}

// PricingQuote prices a wholesale cost for the authenticated user's tier so
// the storefront can show the final figure before checkout.
func PricingQuote(ledgerSvc ledger.Service, tierSvc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ledgerSvc == nil || tierSvc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pricing service unavailable"))
			return
		}

		userID, err := currentUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload pricingQuotePayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wallet, err := ledgerSvc.Wallet(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		margin, err := tierSvc.MarginFor(ctx, payload.Category, wallet.CompletedCount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sell, err := pricing.Quote(pricing.QuoteInput{
			WholesaleCost:     decimal.NewFromInt(payload.WholesaleIDR),
			BaseMarginPercent: margin.BasePercent,
			TierMarkupPercent: margin.MarkupPercent,
			TierEnabled:       margin.TierEnabled,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, pricingQuoteView{
			Category:      payload.Category,
			WholesaleIDR:  payload.WholesaleIDR,
			SellPriceIDR:  sell,
			BasePercent:   margin.BasePercent.String(),
			Tier:          margin.TierName,
			MarkupPercent: margin.MarkupPercent.String(),
			TierEnabled:   margin.TierEnabled,
		})
	}
}
