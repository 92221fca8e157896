package pricing

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/example/topup-engine/pkg/errors"
)

// RoundingUnitIDR is the currency rounding unit for customer-facing prices.
// Sell prices always round up to the nearest unit so the margin is never
// undercut by rounding.
const RoundingUnitIDR = 100

var (
	hundred = decimal.NewFromInt(100)
	unit    = decimal.NewFromInt(RoundingUnitIDR)
)

// QuoteInput is an explicit config snapshot for one pricing decision. It is
// assembled by the caller from the margin config and the user's tier; the
// engine itself never reads storage.
type QuoteInput struct {
	WholesaleCost     decimal.Decimal
	BaseMarginPercent decimal.Decimal
	TierMarkupPercent decimal.Decimal
	TierEnabled       bool
}

// Quote computes the rounded sell price in whole rupiah.
//
// effective = base + (tier enabled ? tier markup : 0)
// sell      = roundUp(wholesale * (1 + effective/100), RoundingUnitIDR)
//
// With the tier system disabled the tier markup contributes nothing, so the
// quote is identical for every tier.
func Quote(input QuoteInput) (int64, error) {
	raw, err := rawPrice(input)
	if err != nil {
		return 0, err
	}
	return raw.Div(unit).Ceil().Mul(unit).IntPart(), nil
}

// QuoteExact returns the unrounded sell price with two decimal places. SMM
// services price per thousand units and need the exact figure before the
// per-item scale-down.
func QuoteExact(input QuoteInput) (decimal.Decimal, error) {
	raw, err := rawPrice(input)
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Round(2), nil
}

func rawPrice(input QuoteInput) (decimal.Decimal, error) {
	if input.WholesaleCost.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInvalidPricingInput, "wholesale cost must not be negative")
	}
	if input.BaseMarginPercent.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInvalidPricingInput, "base margin must not be negative")
	}
	if input.TierMarkupPercent.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInvalidPricingInput, "tier markup must not be negative")
	}

	effective := input.BaseMarginPercent
	if input.TierEnabled {
		effective = effective.Add(input.TierMarkupPercent)
	}
	multiplier := decimal.NewFromInt(1).Add(effective.Div(hundred))
	return input.WholesaleCost.Mul(multiplier), nil
}
