// Package money holds the fixed-point helpers every total computation goes through.
package money

import "github.com/shopspring/decimal"

// Places is the number of fractional digits stored for every amount.
const Places = 2

var (
	// Zero is 0.00.
	Zero = decimal.Zero
	// Hundred is used for percentage and minor-unit conversions.
	Hundred = decimal.NewFromInt(100)
)

// Round quantizes d to two decimals with half-even rounding.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Places)
}

// Sum adds the given amounts and quantizes the result.
func Sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return Round(total)
}

// Line returns price * quantity, unrounded.
func Line(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Clamp bounds d to [0, upper].
func Clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(upper) {
		return upper
	}
	return d
}

// ToMinor converts an amount to integer minor units (paise), rounding half-even.
func ToMinor(d decimal.Decimal) int64 {
	return d.Mul(Hundred).RoundBank(0).IntPart()
}

// FromMinor converts integer minor units back to a quantized amount.
func FromMinor(minor int64) decimal.Decimal {
	return Round(decimal.NewFromInt(minor).Div(Hundred))
}

// Must parses s and panics on failure. Intended for constants and tests.
func Must(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
