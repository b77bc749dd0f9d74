// Package pricing holds discount rules applied to carts and at checkout.
package pricing

import (
	"github.com/shopspring/decimal"

	"pharmacy_checkout/internal/money"
)

// Policy decides the server-side discount granted when a cart becomes an order.
type Policy interface {
	ComputeDiscount(subtotal decimal.Decimal) decimal.Decimal
}

// PercentOfSubtotal grants a flat percentage of the subtotal.
type PercentOfSubtotal struct {
	Percent decimal.Decimal
}

// DefaultCheckoutPercent is the storewide checkout discount.
var DefaultCheckoutPercent = decimal.NewFromInt(15)

func NewPercentOfSubtotal(pct decimal.Decimal) PercentOfSubtotal {
	return PercentOfSubtotal{Percent: pct}
}

func (p PercentOfSubtotal) ComputeDiscount(subtotal decimal.Decimal) decimal.Decimal {
	return Percent(p.Percent).Amount(subtotal)
}

// NoDiscount grants nothing.
type NoDiscount struct{}

func (NoDiscount) ComputeDiscount(decimal.Decimal) decimal.Decimal { return money.Zero }
