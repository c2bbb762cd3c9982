package models

import "github.com/shopspring/decimal"

// The backend speaks JSON numbers, not quoted decimals.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type Money = decimal.Decimal

func NewMoney(v float64) Money {
	return decimal.NewFromFloat(v)
}
