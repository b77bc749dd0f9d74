package pricing

import (
	"github.com/shopspring/decimal"

	"pharmacy_checkout/internal/money"
)

// DiscountKind tags which interpretation a Discount value carries.
type DiscountKind string

const (
	KindFixed   DiscountKind = "fixed"
	KindPercent DiscountKind = "percent"
)

// Discount is a cart-level discount: either an absolute amount or a
// percentage of the subtotal. Build it with Fixed or Percent.
type Discount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

func Fixed(amount decimal.Decimal) Discount {
	return Discount{Kind: KindFixed, Value: amount}
}

func Percent(pct decimal.Decimal) Discount {
	return Discount{Kind: KindPercent, Value: pct}
}

// Parse rebuilds a Discount from its stored kind and value. Unknown kinds
// fall back to Fixed, which is the column default.
func Parse(kind string, value decimal.Decimal) Discount {
	if DiscountKind(kind) == KindPercent {
		return Percent(value)
	}
	return Fixed(value)
}

// Amount returns the quantized discount for subtotal, clamped to [0, subtotal].
// A percentage outside 0..100 degrades to no discount.
func (d Discount) Amount(subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch d.Kind {
	case KindPercent:
		if d.Value.IsNegative() || d.Value.GreaterThan(money.Hundred) {
			return money.Zero
		}
		amount = money.Round(subtotal.Mul(d.Value).Div(money.Hundred))
	default:
		amount = money.Round(d.Value)
	}
	return money.Clamp(amount, subtotal)
}
