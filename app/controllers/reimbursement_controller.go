package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink/internal/pkg/reimbursement"
)

// ReimbursementController quotes the patient's share of a prescription.
type ReimbursementController struct {
	calc *reimbursement.Calculator
}

// NewReimbursementController creates a new reimbursement controller
func NewReimbursementController(calc *reimbursement.Calculator) *ReimbursementController {
	return &ReimbursementController{calc: calc}
}

type quoteItem struct {
	Label        string          `json:"label" validate:"max=200"`
	Price        decimal.Decimal `json:"price"`
	Reimbursable bool            `json:"reimbursable"`
}

type quoteRequest struct {
	Category  string      `json:"category" validate:"max=100"`
	IsChronic bool        `json:"is_chronic"`
	Items     []quoteItem `json:"items" validate:"required,min=1,max=200,dive"`
}

// HandleQuote computes reimbursed and remaining totals for the submitted items.
func (rc *ReimbursementController) HandleQuote(c *fiber.Ctx) error {
	var req quoteRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	items := make([]reimbursement.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, reimbursement.Item{Label: it.Label, Price: it.Price, Reimbursable: it.Reimbursable})
	}
	res, err := rc.calc.Calculate(items, req.Category, req.IsChronic)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
