// Package money holds the stateless price arithmetic used by the terminal:
// discounts, tax and totals. Rates passed to CalculateTax and CalculateTotal
// are percentages (13 means 13 %).
package money

import (
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/pos_terminal/internal/models"
)

// CustomItemTaxRate is the fraction applied to ad-hoc lines that are not
// tax exempt (13 % HST).
var CustomItemTaxRate = decimal.RequireFromString("0.13")

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func CalculateTax(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return nonNegative(amount).Mul(nonNegative(ratePercent)).Div(hundred)
}

// CalculateDiscount never returns more than amount for a fixed discount.
func CalculateDiscount(amount decimal.Decimal, kind models.DiscountType, value decimal.Decimal) decimal.Decimal {
	amount = nonNegative(amount)
	value = nonNegative(value)
	if kind == models.DiscountFixedAmount {
		return decimal.Min(value, amount)
	}
	return amount.Mul(value).Div(hundred)
}

// CalculateTotal applies the discount first and taxes what remains.
func CalculateTotal(subtotal, taxRatePercent decimal.Decimal, kind models.DiscountType, value decimal.Decimal) Totals {
	discount := CalculateDiscount(subtotal, kind, value)
	afterDiscount := subtotal.Sub(discount)
	tax := CalculateTax(afterDiscount, taxRatePercent)
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    afterDiscount.Add(tax),
	}
}

// LineTax returns the tax of a custom line and the rate that produced it.
func LineTax(unitPrice decimal.Decimal, quantity int, taxExempt bool) (rate, tax decimal.Decimal) {
	if taxExempt {
		return decimal.Zero, decimal.Zero
	}
	sub := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return CustomItemTaxRate, sub.Mul(CustomItemTaxRate)
}

func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
