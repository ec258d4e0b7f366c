// Package reimbursement computes the insured share of a prescription. It is pure:
// no I/O and no clock.
package reimbursement

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

type Category string

const (
	CategoryEssential Category = "essential"
	CategoryChronic   Category = "chronic"
	CategoryComfort   Category = "comfort"
	CategoryStandard  Category = "standard"
)

// amounts are kept in centimes precision
const places = 2

var (
	one             = decimal.NewFromInt(1)
	defaultStandard = decimal.RequireFromString("0.80")
)

var aliases = map[string]Category{
	"essential":  CategoryEssential,
	"essentiel":  CategoryEssential,
	"chronic":    CategoryChronic,
	"chronique":  CategoryChronic,
	"comfort":    CategoryComfort,
	"confort":    CategoryComfort,
	"standard":   CategoryStandard,
	"ordinaire":  CategoryStandard,
	"classique":  CategoryStandard,
	"non classé": CategoryStandard,
}

// ParseCategory maps a category label, in French or English, to a Category.
// Unknown labels map to CategoryStandard with ok=false.
func ParseCategory(label string) (Category, bool) {
	c, ok := aliases[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return CategoryStandard, false
	}
	return c, true
}

// Item is one prescription line.
type Item struct {
	Label        string          `json:"label,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Reimbursable bool            `json:"reimbursable"`
}

// Line is the split of one item.
type Line struct {
	Label        string          `json:"label,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Reimbursable bool            `json:"reimbursable"`
	Reimbursed   decimal.Decimal `json:"reimbursed"`
	Remaining    decimal.Decimal `json:"remaining"`
}

// Result holds the totals. Reimbursed + Remaining == Total exactly.
type Result struct {
	Category   Category        `json:"category"`
	Chronic    bool            `json:"chronic"`
	Rate       decimal.Decimal `json:"rate"`
	Total      decimal.Decimal `json:"total"`
	Reimbursed decimal.Decimal `json:"reimbursed"`
	Remaining  decimal.Decimal `json:"remaining"`
	Lines      []Line          `json:"lines"`
}

// Calculator holds the rate table.
type Calculator struct {
	rates    map[Category]decimal.Decimal
	standard decimal.Decimal
}

// NewCalculator creates a calculator whose unknown-category rate is standardRate.
func NewCalculator(standardRate decimal.Decimal) (*Calculator, error) {
	if standardRate.IsNegative() || standardRate.GreaterThan(one) {
		return nil, apperr.Validation("standard rate %s must be between 0 and 1", standardRate)
	}
	return &Calculator{
		rates: map[Category]decimal.Decimal{
			CategoryEssential: decimal.RequireFromString("0.80"),
			CategoryChronic:   one,
			CategoryComfort:   decimal.Zero,
			CategoryStandard:  standardRate,
		},
		standard: standardRate,
	}, nil
}

// NewCalculatorFromString parses the configured standard rate. An empty value uses 80%.
func NewCalculatorFromString(standardRate string) (*Calculator, error) {
	if strings.TrimSpace(standardRate) == "" {
		return NewCalculator(defaultStandard)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(standardRate))
	if err != nil {
		return nil, apperr.Validation("invalid standard rate %q", standardRate)
	}
	return NewCalculator(rate)
}

// Rate resolves the rate for a category label. A chronic patient is always covered at 100%.
func (c *Calculator) Rate(category string, isChronic bool) (Category, decimal.Decimal) {
	cat, _ := ParseCategory(category)
	if isChronic {
		return cat, one
	}
	rate, ok := c.rates[cat]
	if !ok {
		rate = c.standard
	}
	return cat, rate
}

// Calculate splits the prescription into reimbursed and remaining amounts.
func (c *Calculator) Calculate(items []Item, category string, isChronic bool) (Result, error) {
	cat, rate := c.Rate(category, isChronic)
	res := Result{
		Category:   cat,
		Chronic:    isChronic,
		Rate:       rate,
		Total:      decimal.Zero,
		Reimbursed: decimal.Zero,
		Lines:      make([]Line, 0, len(items)),
	}

	for i, item := range items {
		if item.Price.IsNegative() {
			return Result{}, apperr.Validation("item %d has a negative price", i+1)
		}
		if !item.Price.Equal(item.Price.Round(places)) {
			return Result{}, apperr.Validation("item %d price has more than %d decimal places", i+1, places)
		}
		price := item.Price
		line := Line{Label: item.Label, Price: price, Reimbursable: item.Reimbursable, Reimbursed: decimal.Zero}
		if item.Reimbursable {
			line.Reimbursed = price.Mul(rate).Round(places)
		}
		line.Remaining = price.Sub(line.Reimbursed)

		res.Total = res.Total.Add(price)
		res.Reimbursed = res.Reimbursed.Add(line.Reimbursed)
		res.Lines = append(res.Lines, line)
	}
	res.Remaining = res.Total.Sub(res.Reimbursed)
	return res, nil
}
