package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAPACITY MODEL
// =============================================================================

var (
	// FullAllocation is the requested amount when a caller does not give one.
	FullAllocation = decimal.NewFromInt(1)
	hundred        = decimal.NewFromInt(100)
)

// ResolveCapacity returns the resource's capacity when strictly positive, 1 otherwise.
func ResolveCapacity(r Resource) decimal.Decimal {
	if r.CapacityValue.Valid && r.CapacityValue.Decimal.IsPositive() {
		return r.CapacityValue.Decimal
	}
	return FullAllocation
}

// NormalizeRatio returns fallback for null, 0 for negatives, ratio otherwise.
// The value is an absolute amount in the resource's capacity unit.
func NormalizeRatio(ratio decimal.NullDecimal, fallback decimal.Decimal) decimal.Decimal {
	if !ratio.Valid {
		return fallback
	}
	if ratio.Decimal.IsNegative() {
		return decimal.Zero
	}
	return ratio.Decimal
}

// NullDecimalFrom wraps an optional float.
func NullDecimalFrom(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}

// Percentage returns 100*part/whole rounded to two places. When whole is not
// positive it returns 0 if part is zero and 100 otherwise.
func Percentage(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		if part.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return part.Mul(hundred).Div(whole).Round(2)
}

// OverlapDays counts the calendar days of the intersection of w with
// [start, end), in start's location. Zero when they do not overlap.
func OverlapDays(w Window, start, end time.Time) int {
	part, ok := w.Intersect(Window{Start: start, End: end})
	if !ok {
		return 0
	}
	loc := start.Location()
	return CountSpannedDays(part.Start.In(loc), part.End.In(loc))
}
