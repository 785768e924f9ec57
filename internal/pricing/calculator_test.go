package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, name string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s got %s", name, want, got)
}

func TestComputeReferenceDocument(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("100"), Quantity: d("2"), DiscountPercent: d("10")},
		{UnitPrice: d("50"), Quantity: d("1")},
	}
	got := Compute(lines, Options{VATRate: d("20"), IncludeVAT: true})

	assertDec(t, "250", got.GrossTotal, "gross")
	assertDec(t, "20", got.DiscountAmount, "discount")
	assertDec(t, "230", got.Subtotal, "subtotal")
	assertDec(t, "46", got.VAT, "vat")
	assertDec(t, "0", got.Tax, "tax")
	assertDec(t, "276", got.Total, "total")
}

func TestComputeWithTaxAndVAT(t *testing.T) {
	lines := []Line{{UnitPrice: d("19.99"), Quantity: d("3"), DiscountPercent: d("5")}}
	got := Compute(lines, Options{VATRate: d("25"), TaxRate: d("2.5"), IncludeVAT: true, IncludeTax: true})

	assertDec(t, "59.97", got.GrossTotal, "gross")
	assertDec(t, "2.9985", got.DiscountAmount, "discount")
	assertDec(t, "56.9715", got.Subtotal, "subtotal")
	assertDec(t, "14.242875", got.VAT, "vat")
	assertDec(t, "1.424288", got.Tax, "tax")
	assertDec(t, "72.638663", got.Total, "total")
	assert.True(t, got.Total.Equal(got.Subtotal.Add(got.VAT).Add(got.Tax)))
}

func TestFlagsDisableRates(t *testing.T) {
	lines := []Line{{UnitPrice: d("10"), Quantity: d("1")}}
	got := Compute(lines, Options{VATRate: d("20"), TaxRate: d("10")})
	assertDec(t, "0", got.VAT, "vat")
	assertDec(t, "0", got.Tax, "tax")
	assertDec(t, "10", got.Total, "total")
}

func TestMissingValuesContributeZero(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("99")},
		{Quantity: d("4")},
		{},
	}
	got := Compute(lines, Options{IncludeVAT: true, IncludeTax: true})
	assert.True(t, got.Equal(Totals{}))
	assert.Empty(t, got.Diff(Totals{}))
}

func TestComputeEmpty(t *testing.T) {
	assert.True(t, Compute(nil, Options{VATRate: d("20"), IncludeVAT: true}).Total.IsZero())
}

func TestLineTotalMatchesCompute(t *testing.T) {
	l := Line{UnitPrice: d("100"), Quantity: d("2"), DiscountPercent: d("10")}
	assertDec(t, "180", LineTotal(l), "line total")
	assert.True(t, LineTotal(l).Equal(Compute([]Line{l}, Options{}).Subtotal))
}

func TestFullDiscount(t *testing.T) {
	l := Line{UnitPrice: d("40"), Quantity: d("2"), DiscountPercent: d("100")}
	assertDec(t, "0", LineTotal(l), "line total")
}

func TestDiffNamesChangedComponents(t *testing.T) {
	a := Compute([]Line{{UnitPrice: d("10"), Quantity: d("1")}}, Options{VATRate: d("20"), IncludeVAT: true})
	b := a
	b.VAT = d("1")
	b.Total = d("11")
	assert.Equal(t, []string{"vat_amount", "total"}, a.Diff(b))
	assert.False(t, a.Equal(b))
}

// stored mimics a NUMERIC(20, 6) column: the value is rounded and read back as text.
func stored(v decimal.Decimal) decimal.Decimal {
	return d(v.StringFixed(Scale))
}

func TestTotalsSurviveStorageScale(t *testing.T) {
	cases := []struct {
		name  string
		lines []Line
		opts  Options
	}{
		{"fractional vat", []Line{{Quantity: d("3"), UnitPrice: d("9.99"), DiscountPercent: d("7.5")}}, Options{VATRate: d("19.5"), IncludeVAT: true}},
		{"vat and tax", []Line{{Quantity: d("3"), UnitPrice: d("19.99"), DiscountPercent: d("5")}}, Options{VATRate: d("25"), TaxRate: d("2.5"), IncludeVAT: true, IncludeTax: true}},
		{"many small lines", []Line{
			{Quantity: d("0.333333"), UnitPrice: d("0.07"), DiscountPercent: d("33.3333")},
			{Quantity: d("7"), UnitPrice: d("1.234567"), DiscountPercent: d("12.5")},
			{Quantity: d("1.5"), UnitPrice: d("1000.000001")},
		}, Options{VATRate: d("7.7"), TaxRate: d("0.0125"), IncludeVAT: true, IncludeTax: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			computed := Compute(tc.lines, tc.opts)
			persisted := Totals{
				GrossTotal:     stored(computed.GrossTotal),
				DiscountAmount: stored(computed.DiscountAmount),
				Subtotal:       stored(computed.Subtotal),
				VAT:            stored(computed.VAT),
				Tax:            stored(computed.Tax),
				Total:          stored(computed.Total),
			}
			reread := make([]Line, len(tc.lines))
			for i, l := range tc.lines {
				reread[i] = Line{Quantity: stored(l.Quantity), UnitPrice: stored(l.UnitPrice), DiscountPercent: l.DiscountPercent}
			}
			recomputed := Compute(reread, tc.opts)
			assert.Empty(t, persisted.Diff(recomputed))
			assert.True(t, persisted.Equal(recomputed))
			assert.True(t, recomputed.Total.Equal(recomputed.Subtotal.Add(recomputed.VAT).Add(recomputed.Tax)))
		})
	}
}

func TestComputeRoundsHalfAwayFromZero(t *testing.T) {
	got := Compute([]Line{{Quantity: d("3"), UnitPrice: d("9.99"), DiscountPercent: d("7.5")}}, Options{VATRate: d("19.5"), IncludeVAT: true})
	assertDec(t, "27.72225", got.Subtotal, "subtotal")
	assertDec(t, "5.405839", got.VAT, "vat")
	assertDec(t, "33.128089", got.Total, "total")
	assertDec(t, "2.5", Quantize(d("2.4999995")), "half rounds up")
}
