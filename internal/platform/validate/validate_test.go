package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type line struct {
	Discount decimal.Decimal  `json:"discount_percent" validate:"dgte=0,dlte=100"`
	Rate     *decimal.Decimal `json:"vat_rate,omitempty" validate:"omitempty,dgte=0,dlte=100"`
}

type doc struct {
	Currency string `json:"currency" validate:"required,iso4217"`
	Lines    []line `json:"lines" validate:"required,min=1,dive"`
}

func TestStructAcceptsValidInput(t *testing.T) {
	rate := decimal.NewFromInt(20)
	err := New().Struct(doc{Currency: "EUR", Lines: []line{{Discount: decimal.RequireFromString("12.5"), Rate: &rate}}})
	require.NoError(t, err)
}

func TestStructRejectsUnknownCurrency(t *testing.T) {
	err := New().Struct(doc{Currency: "XYZ1", Lines: []line{{}}})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "currency failed iso4217")

	err = New().Struct(doc{Currency: "eur", Lines: []line{{}}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStructChecksDecimalBounds(t *testing.T) {
	over := decimal.NewFromInt(101)
	err := New().Struct(doc{Currency: "USD", Lines: []line{{Discount: decimal.NewFromInt(-1)}, {Rate: &over}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "lines[0].discount_percent failed dgte")
	assert.Contains(t, err.Error(), "lines[1].vat_rate failed dlte")
}

func TestStructRequiresLines(t *testing.T) {
	err := New().Struct(doc{Currency: "USD"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStructDecimalBoundsAreExact(t *testing.T) {
	above := decimal.RequireFromString("100.00000000000000001")
	err := New().Struct(doc{Currency: "USD", Lines: []line{{Discount: above}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "lines[0].discount_percent failed dlte")

	below := decimal.RequireFromString("-0.00000000000000001")
	err = New().Struct(doc{Currency: "USD", Lines: []line{{Rate: &below}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "lines[0].vat_rate failed dgte")

	edge := decimal.NewFromInt(100)
	require.NoError(t, New().Struct(doc{Currency: "USD", Lines: []line{{Discount: edge, Rate: &edge}}}))
}

type payment struct {
	Amount decimal.Decimal `json:"amount" validate:"dgt=0"`
}

func TestStructStrictDecimalBound(t *testing.T) {
	err := New().Struct(payment{})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "amount failed dgt")

	require.NoError(t, New().Struct(payment{Amount: decimal.RequireFromString("0.000000000000000001")}))
}
