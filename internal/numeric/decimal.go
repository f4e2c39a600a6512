// Package numeric implements the decimal arithmetic used by derived fields.
//
// Every stored intermediate result is truncated toward zero (never rounded)
// to the precision declared on the receiving field. Leaf inputs that do not
// parse as a finite decimal are treated as zero.
package numeric

import (
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// workContext carries enough digits that truncation, not the context, decides precision.
var workContext = apd.Context{
	Precision:   34,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps,
	Rounding:    apd.RoundHalfEven,
}

// truncContext quantizes toward zero.
var truncContext = apd.Context{
	Precision:   34,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps,
	Rounding:    apd.RoundDown,
}

// Zero returns a new zero decimal.
func Zero() *apd.Decimal {
	return apd.New(0, 0)
}

// Parse reads a canonical decimal string ("12.5", "-3", "0.125").
// A single decimal comma is accepted when the input has no point ("12,5").
// ok is false, and the result zero, for empty, malformed or non-finite input.
func Parse(s string) (d *apd.Decimal, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero(), false
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return Zero(), false
	}
	return d, true
}

// ParseOrZero is Parse without the validity flag.
func ParseOrZero(s string) *apd.Decimal {
	d, _ := Parse(s)
	return d
}

// Truncate returns d cut toward zero to precision fractional digits.
func Truncate(d *apd.Decimal, precision int) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := truncContext.Quantize(out, d, int32(-precision)); err != nil {
		return Zero()
	}
	if out.IsZero() {
		// Avoid "-0.000" after truncating small negatives.
		out.Negative = false
	}
	return out
}

// Format renders d truncated to precision with exactly precision fractional digits.
func Format(d *apd.Decimal, precision int) string {
	return Truncate(d, precision).Text('f')
}

// Add returns a + b.
func Add(a, b *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := workContext.Add(out, a, b); err != nil {
		return Zero()
	}
	return out
}

// Sub returns a - b.
func Sub(a, b *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := workContext.Sub(out, a, b); err != nil {
		return Zero()
	}
	return out
}

// Mul returns a * b.
func Mul(a, b *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := workContext.Mul(out, a, b); err != nil {
		return Zero()
	}
	return out
}

// Div returns a / b, or zero when b is zero.
func Div(a, b *apd.Decimal) *apd.Decimal {
	if b.IsZero() {
		return Zero()
	}
	out := new(apd.Decimal)
	if _, err := workContext.Quo(out, a, b); err != nil {
		return Zero()
	}
	return out
}

// Min returns the smaller of a and b.
func Min(a, b *apd.Decimal) *apd.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b *apd.Decimal) *apd.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Equal reports whether two decimal strings denote the same value.
func Equal(a, b string) bool {
	da, okA := Parse(a)
	db, okB := Parse(b)
	if !okA || !okB {
		return a == b
	}
	return da.Cmp(db) == 0
}
