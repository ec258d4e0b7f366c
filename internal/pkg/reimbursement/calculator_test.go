package reimbursement

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculatorFromString("0.80")
	require.NoError(t, err)
	return c
}

func TestChronicPatientIsFullyCovered(t *testing.T) {
	res, err := newCalc(t).Calculate([]Item{{Price: d("1000"), Reimbursable: true}}, "Chronique", true)
	require.NoError(t, err)

	assert.Equal(t, CategoryChronic, res.Category)
	assert.True(t, res.Rate.Equal(d("1")))
	assert.True(t, res.Reimbursed.Equal(d("1000")))
	assert.True(t, res.Remaining.IsZero())
}

func TestNonReimbursableItemIsFullyRemaining(t *testing.T) {
	res, err := newCalc(t).Calculate([]Item{{Price: d("500"), Reimbursable: false}}, "Essentiel", false)
	require.NoError(t, err)

	assert.Equal(t, CategoryEssential, res.Category)
	assert.True(t, res.Reimbursed.IsZero())
	assert.True(t, res.Remaining.Equal(d("500")))
}

func TestRateTable(t *testing.T) {
	c := newCalc(t)
	tests := []struct {
		category string
		chronic  bool
		want     string
	}{
		{"Essentiel", false, "0.8"},
		{"essential", false, "0.8"},
		{"Chronic", false, "1"},
		{"Confort", false, "0"},
		{"Confort", true, "1"},
		{"unheard-of", false, "0.8"},
		{"", false, "0.8"},
	}
	for _, tt := range tests {
		_, rate := c.Rate(tt.category, tt.chronic)
		assert.True(t, rate.Equal(d(tt.want)), "%s chronic=%v got %s", tt.category, tt.chronic, rate)
	}
}

func TestUnknownCategoryUsesConfiguredStandardRate(t *testing.T) {
	c, err := NewCalculatorFromString("0.65")
	require.NoError(t, err)

	res, err := c.Calculate([]Item{{Price: d("200"), Reimbursable: true}}, "Vitamines", false)
	require.NoError(t, err)
	assert.Equal(t, CategoryStandard, res.Category)
	assert.True(t, res.Reimbursed.Equal(d("130")))
}

func TestTotalsNeverLeak(t *testing.T) {
	c := newCalc(t)
	items := []Item{
		{Price: d("333.33"), Reimbursable: true},
		{Price: d("0.01"), Reimbursable: true},
		{Price: d("19.99"), Reimbursable: false},
		{Price: d("0.05"), Reimbursable: true},
		{Price: d("1234.57"), Reimbursable: true},
		{Price: d("0"), Reimbursable: true},
	}
	for _, category := range []string{"Essentiel", "Chronique", "Confort", "other"} {
		for _, chronic := range []bool{false, true} {
			res, err := c.Calculate(items, category, chronic)
			require.NoError(t, err)

			assert.True(t, res.Reimbursed.Add(res.Remaining).Equal(res.Total), "%s/%v", category, chronic)
			assert.False(t, res.Reimbursed.IsNegative())
			assert.True(t, res.Reimbursed.LessThanOrEqual(res.Total))
			assert.False(t, res.Remaining.IsNegative())
			for _, line := range res.Lines {
				assert.True(t, line.Reimbursed.LessThanOrEqual(line.Price))
				assert.True(t, line.Reimbursed.Add(line.Remaining).Equal(line.Price))
			}
		}
	}
}

func TestRoundingToCentimes(t *testing.T) {
	res, err := newCalc(t).Calculate([]Item{{Price: d("10.01"), Reimbursable: true}}, "Essentiel", false)
	require.NoError(t, err)
	assert.Equal(t, "8.01", res.Reimbursed.StringFixed(2))
	assert.Equal(t, "2.00", res.Remaining.StringFixed(2))
}

func TestEmptyPrescription(t *testing.T) {
	res, err := newCalc(t).Calculate(nil, "Essentiel", false)
	require.NoError(t, err)
	assert.True(t, res.Total.IsZero())
	assert.Empty(t, res.Lines)
}

func TestNegativePriceRejected(t *testing.T) {
	_, err := newCalc(t).Calculate([]Item{{Price: d("-1"), Reimbursable: true}}, "Essentiel", false)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestSubCentimePriceRejected(t *testing.T) {
	c := newCalc(t)
	_, err := c.Calculate([]Item{{Price: d("10.00")}, {Price: d("1234.567"), Reimbursable: true}}, "Essentiel", false)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	res, err := c.Calculate([]Item{{Price: d("10.10")}, {Price: d("1234.5"), Reimbursable: true}}, "Essentiel", false)
	require.NoError(t, err)
	assert.Equal(t, "1244.60", res.Total.StringFixed(2))
}

func TestInvalidStandardRate(t *testing.T) {
	_, err := NewCalculatorFromString("1.5")
	assert.Error(t, err)
	_, err = NewCalculatorFromString("abc")
	assert.Error(t, err)

	c, err := NewCalculatorFromString("")
	require.NoError(t, err)
	_, rate := c.Rate("x", false)
	assert.True(t, rate.Equal(d("0.8")))
}
