package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
	DiscountBuyXGetY    DiscountType = "BUY_X_GET_Y"
)

// ItemOrigin tells whether a line's figures came from the backend or were
// computed on the terminal and are still waiting to be confirmed.
type ItemOrigin string

const (
	OriginServer ItemOrigin = "server"
	OriginClient ItemOrigin = "client"
)

type CartItem struct {
	ItemID      string     `json:"itemId"`
	ProductID   *int64     `json:"productId"`
	ProductCode string     `json:"productCode,omitempty"`
	ProductName string     `json:"productName"`
	SKU         string     `json:"sku,omitempty"`
	Barcode     *string    `json:"barcode"`
	Quantity    int        `json:"quantity"`
	UnitPrice   Money      `json:"unitPrice"`
	TaxRate     Money      `json:"taxRate"`
	TaxAmount   Money      `json:"taxAmount"`
	Discount    Money      `json:"discount"`
	Total       Money      `json:"total"`
	TaxExempt   bool       `json:"taxExempt,omitempty"`
	Origin      ItemOrigin `json:"origin,omitempty"`
}

// Subtotal is the undiscounted, untaxed line amount.
func (i CartItem) Subtotal() Money {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i CartItem) IsProvisional() bool {
	return i.Origin == OriginClient
}

type Discount struct {
	ID                int64        `json:"id"`
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	Type              DiscountType `json:"type"`
	Value             Money        `json:"value"`
	MinPurchaseAmount *Money       `json:"minPurchaseAmount,omitempty"`
	MaxDiscountAmount *Money       `json:"maxDiscountAmount,omitempty"`
	ValidFrom         *time.Time   `json:"validFrom,omitempty"`
	ValidTo           *time.Time   `json:"validTo,omitempty"`
	UsageLimit        *int         `json:"usageLimit,omitempty"`
	UsedCount         *int         `json:"usedCount,omitempty"`
	IsActive          bool         `json:"isActive"`
}

type Cart struct {
	CartID         string     `json:"cartId"`
	StoreID        int64      `json:"storeId"`
	CashierID      int64      `json:"cashierId"`
	Items          []CartItem `json:"items"`
	Discount       *Discount  `json:"discount,omitempty"`
	Subtotal       Money      `json:"subtotal"`
	TaxAmount      Money      `json:"taxAmount"`
	DiscountAmount Money      `json:"discountAmount"`
	Total          Money      `json:"total"`
	CreatedAt      string     `json:"createdAt,omitempty"`
}

// Provisional reports whether any line was computed locally. Such a cart is
// overwritten by the next server response.
func (c *Cart) Provisional() bool {
	for _, it := range c.Items {
		if it.IsProvisional() {
			return true
		}
	}
	return false
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Recalculate sums the lines into the cart totals, keeping the discount
// amount that the backend last reported.
func (c *Cart) Recalculate() {
	subtotal := Money{}
	tax := Money{}
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.Subtotal())
		tax = tax.Add(it.TaxAmount)
	}
	c.Subtotal = subtotal
	c.TaxAmount = tax
	c.Total = subtotal.Add(tax).Sub(c.DiscountAmount)
}

// Clone returns a deep copy so callers can't mutate the held snapshot.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = append([]CartItem(nil), c.Items...)
	if c.Discount != nil {
		d := *c.Discount
		out.Discount = &d
	}
	return &out
}
