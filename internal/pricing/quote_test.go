package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/example/topup-engine/pkg/errors"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name  string
		input QuoteInput
		want  int64
	}{
		{
			name: "base plus tier markup rounds up",
			input: QuoteInput{
				WholesaleCost:     decimal.NewFromInt(10000),
				BaseMarginPercent: decimal.NewFromInt(5),
				TierMarkupPercent: decimal.NewFromInt(3),
				TierEnabled:       true,
			},
			want: 10800,
		},
		{
			name: "tier disabled ignores markup",
			input: QuoteInput{
				WholesaleCost:     decimal.NewFromInt(10000),
				BaseMarginPercent: decimal.NewFromInt(5),
				TierMarkupPercent: decimal.NewFromInt(3),
				TierEnabled:       false,
			},
			want: 10500,
		},
		{
			name: "exact multiple does not round further",
			input: QuoteInput{
				WholesaleCost:     decimal.NewFromInt(10000),
				BaseMarginPercent: decimal.NewFromInt(10),
				TierEnabled:       true,
			},
			want: 11000,
		},
		{
			name: "fractional result rounds to next hundred",
			input: QuoteInput{
				WholesaleCost:     decimal.NewFromInt(1550),
				BaseMarginPercent: decimal.NewFromInt(8),
				TierEnabled:       false,
			},
			want: 1700,
		},
		{
			name: "zero wholesale is free",
			input: QuoteInput{
				WholesaleCost:     decimal.Zero,
				BaseMarginPercent: decimal.NewFromInt(10),
				TierEnabled:       true,
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Quote(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoteFlatWhenDisabled(t *testing.T) {
	markups := []int64{2, 8, 6, 4, 10}
	var first int64
	for i, m := range markups {
		got, err := Quote(QuoteInput{
			WholesaleCost:     decimal.NewFromInt(25000),
			BaseMarginPercent: decimal.NewFromInt(7),
			TierMarkupPercent: decimal.NewFromInt(m),
			TierEnabled:       false,
		})
		require.NoError(t, err)
		if i == 0 {
			first = got
			continue
		}
		assert.Equal(t, first, got, "disabled tier system must quote the same price for every tier")
	}
}

func TestQuoteMonotonicInMarkup(t *testing.T) {
	prev := int64(-1)
	for _, m := range []int64{0, 2, 4, 6, 8, 10} {
		got, err := Quote(QuoteInput{
			WholesaleCost:     decimal.NewFromInt(13370),
			BaseMarginPercent: decimal.NewFromInt(5),
			TierMarkupPercent: decimal.NewFromInt(m),
			TierEnabled:       true,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestQuoteRejectsNegativeInputs(t *testing.T) {
	tests := []struct {
		name  string
		input QuoteInput
	}{
		{
			name:  "negative wholesale",
			input: QuoteInput{WholesaleCost: decimal.NewFromInt(-1)},
		},
		{
			name: "negative base margin",
			input: QuoteInput{
				WholesaleCost:     decimal.NewFromInt(1000),
				BaseMarginPercent: decimal.NewFromInt(-5),
			},
		},
		{
			name: "negative tier markup",
			input: QuoteInput{
				WholesaleCost:     decimal.NewFromInt(1000),
				TierMarkupPercent: decimal.NewFromInt(-2),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Quote(tt.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidPricingInput))
		})
	}
}

func TestQuoteExact(t *testing.T) {
	got, err := QuoteExact(QuoteInput{
		WholesaleCost:     decimal.RequireFromString("1234.56"),
		BaseMarginPercent: decimal.NewFromInt(10),
		TierEnabled:       false,
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1358.02").Equal(got), "got %s", got)
}
