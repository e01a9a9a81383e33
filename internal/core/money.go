// Package core holds the domain types shared by every engine. Amounts
// are decimal.Decimal throughout; floats never touch money.
package core

import "github.com/shopspring/decimal"

// RoundedAbs returns |v| rounded to whole units. Purchase identity keys
// round this way so statement-to-statement cent jitter does not split a
// purchase into two identities.
func RoundedAbs(v decimal.Decimal) string {
	return v.Abs().Round(0).String()
}

// WithinTolerance reports whether got is within frac (0.05 = 5%) of
// want. A zero want only matches a zero got.
func WithinTolerance(got, want decimal.Decimal, frac float64) bool {
	if want.IsZero() {
		return got.IsZero()
	}
	diff := got.Abs().Sub(want.Abs()).Abs()
	limit := want.Abs().Mul(decimal.NewFromFloat(frac))
	return diff.LessThanOrEqual(limit)
}

// Ratio returns part/whole, or zero when whole is zero.
func Ratio(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole)
}

// SumSigned adds signed amounts; SumAbs adds absolute values. Recurring
// actuals use the raw sum for income items and the absolute sum for
// everything else.
func SumSigned(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount)
	}
	return total
}

func SumAbs(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount.Abs())
	}
	return total
}
