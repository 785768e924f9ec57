// Package pricing turns line items into document totals. It is the only place
// totals are derived; draft preview, submit and render paths all call Compute.
package pricing

import "github.com/shopspring/decimal"

// Scale is the number of decimal places of every stored money column
// (NUMERIC(20, 6) in migrations/0001_init.sql). Derived amounts are rounded to
// it half away from zero, as Postgres does on insert, so stored and recomputed
// totals compare equal.
const Scale int32 = 6

// RateScale is the precision of stored percentages (NUMERIC(7, 4)).
const RateScale int32 = 4

var hundred = decimal.NewFromInt(100)

// QuantizeRate rounds a percentage to RateScale places.
func QuantizeRate(v decimal.Decimal) decimal.Decimal {
	return v.Round(RateScale)
}

// Quantize rounds v to Scale places.
func Quantize(v decimal.Decimal) decimal.Decimal {
	return v.Round(Scale)
}

// Line is the priced part of a line item. Zero values mean "not provided".
type Line struct {
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// Options carries document level rates and flags.
type Options struct {
	VATRate    decimal.Decimal
	TaxRate    decimal.Decimal
	IncludeVAT bool
	IncludeTax bool
}

// Totals is the derived money summary of a document.
type Totals struct {
	GrossTotal     decimal.Decimal `json:"gross_total"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	VAT            decimal.Decimal `json:"vat_amount"`
	Tax            decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

// LineGross is unitPrice × quantity.
func LineGross(l Line) decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// LineDiscount is gross × discount%/100.
func LineDiscount(l Line) decimal.Decimal {
	return LineGross(l).Mul(l.DiscountPercent).Div(hundred)
}

// LineTotal is the net line amount persisted as line_total, at Scale.
func LineTotal(l Line) decimal.Decimal {
	return Quantize(LineGross(l).Sub(LineDiscount(l)))
}

// Compute aggregates lines and applies VAT and tax to the post-discount subtotal.
// Line sums are exact; each component is then quantized, and Subtotal and Total
// are derived from the quantized parts so they add up at Scale.
func Compute(lines []Line, opts Options) Totals {
	var gross, discount decimal.Decimal
	for _, l := range lines {
		gross = gross.Add(LineGross(l))
		discount = discount.Add(LineDiscount(l))
	}
	t := Totals{GrossTotal: Quantize(gross), DiscountAmount: Quantize(discount)}
	t.Subtotal = t.GrossTotal.Sub(t.DiscountAmount)
	if opts.IncludeVAT {
		t.VAT = Quantize(t.Subtotal.Mul(opts.VATRate).Div(hundred))
	}
	if opts.IncludeTax {
		t.Tax = Quantize(t.Subtotal.Mul(opts.TaxRate).Div(hundred))
	}
	t.Total = t.Subtotal.Add(t.VAT).Add(t.Tax)
	return t
}

// Equal compares every component numerically.
func (t Totals) Equal(o Totals) bool {
	return t.GrossTotal.Equal(o.GrossTotal) &&
		t.DiscountAmount.Equal(o.DiscountAmount) &&
		t.Subtotal.Equal(o.Subtotal) &&
		t.VAT.Equal(o.VAT) &&
		t.Tax.Equal(o.Tax) &&
		t.Total.Equal(o.Total)
}

// Diff lists the names of components that differ from o.
func (t Totals) Diff(o Totals) []string {
	var out []string
	pairs := []struct {
		name string
		a, b decimal.Decimal
	}{
		{"gross_total", t.GrossTotal, o.GrossTotal},
		{"discount_amount", t.DiscountAmount, o.DiscountAmount},
		{"subtotal", t.Subtotal, o.Subtotal},
		{"vat_amount", t.VAT, o.VAT},
		{"tax_amount", t.Tax, o.Tax},
		{"total", t.Total, o.Total},
	}
	for _, p := range pairs {
		if !p.a.Equal(p.b) {
			out = append(out, p.name)
		}
	}
	return out
}
