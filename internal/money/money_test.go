package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Skotchmaster/pos_terminal/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateTotalIdentity(t *testing.T) {
	tests := []struct {
		name     string
		subtotal string
		rate     string
		kind     models.DiscountType
		value    string
	}{
		{"no discount", "100", "13", models.DiscountPercentage, "0"},
		{"ten percent", "20", "0", models.DiscountPercentage, "10"},
		{"fixed below subtotal", "50", "5", models.DiscountFixedAmount, "12.5"},
		{"fixed above subtotal", "8", "13", models.DiscountFixedAmount, "20"},
		{"fractional", "19.99", "13", models.DiscountPercentage, "15"},
		{"zero subtotal", "0", "13", models.DiscountFixedAmount, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTotal(d(tt.subtotal), d(tt.rate), tt.kind, d(tt.value))
			want := got.Subtotal.Sub(got.Discount).Add(got.Tax)
			assert.True(t, got.Total.Equal(want), "total %s != %s", got.Total, want)
			if tt.kind == models.DiscountFixedAmount {
				assert.True(t, got.Discount.LessThanOrEqual(got.Subtotal))
			}
		})
	}
}

func TestTenPercentOffTwenty(t *testing.T) {
	got := CalculateTotal(d("20"), decimal.Zero, models.DiscountPercentage, d("10"))
	assert.True(t, got.Subtotal.Equal(d("20")))
	assert.True(t, got.Discount.Equal(d("2")))
	assert.True(t, got.Total.Equal(d("18")))
}

func TestFixedDiscountCappedAtAmount(t *testing.T) {
	assert.True(t, CalculateDiscount(d("8"), models.DiscountFixedAmount, d("20")).Equal(d("8")))
	assert.True(t, CalculateDiscount(d("8"), models.DiscountFixedAmount, d("-3")).IsZero())
}

func TestTaxOnDiscountedAmount(t *testing.T) {
	got := CalculateTotal(d("100"), d("13"), models.DiscountPercentage, d("10"))
	assert.True(t, got.Tax.Equal(d("11.7")), got.Tax.String())
	assert.True(t, got.Total.Equal(d("101.7")))
}

func TestLineTax(t *testing.T) {
	rate, tax := LineTax(d("10"), 3, false)
	assert.True(t, rate.Equal(d("0.13")))
	assert.True(t, tax.Equal(d("3.9")), tax.String())

	rate, tax = LineTax(d("10"), 3, true)
	assert.True(t, rate.IsZero())
	assert.True(t, tax.IsZero())
}

func TestRound2(t *testing.T) {
	assert.Equal(t, "2.6", Round2(d("2.599")).String())
}
