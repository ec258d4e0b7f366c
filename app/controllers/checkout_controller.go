package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/billing"
	"github.com/pharmalink/pharmalink/internal/pkg/usercontext"
)

// CheckoutController exposes the automated checkout flow.
type CheckoutController struct {
	checkout *billing.Service
}

// NewCheckoutController creates a new checkout controller
func NewCheckoutController(checkout *billing.Service) *CheckoutController {
	return &CheckoutController{checkout: checkout}
}

type createSessionRequest struct {
	Plan string `json:"plan" validate:"required"`
	// Email overrides the address from the identity token.
	Email string `json:"email" validate:"omitempty,email,max=200"`
}

type sessionResponse struct {
	ID          string               `json:"id"`
	Plan        string               `json:"plan"`
	Amount      int64                `json:"amount"`
	Currency    string               `json:"currency"`
	Status      models.SessionStatus `json:"status"`
	CheckoutURL string               `json:"checkout_url,omitempty"`
	ExpiresAt   string               `json:"expires_at"`
	Granted     bool                 `json:"granted"`
}

func toSessionResponse(s *models.CheckoutSession) sessionResponse {
	return sessionResponse{
		ID:          s.ID,
		Plan:        s.Plan,
		Amount:      s.Amount,
		Currency:    s.Currency,
		Status:      s.Status,
		CheckoutURL: s.RedirectURL,
		ExpiresAt:   s.ExpiresAt.UTC().Format(time.RFC3339),
		Granted:     s.IsGranted(),
	}
}

// HandleCreateSession opens a provider checkout for the caller. The amount is priced
// server-side from the plan.
func (cc *CheckoutController) HandleCreateSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	var req createSessionRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	email := req.Email
	if email == "" {
		email = uc.Email
	}

	accountID := uc.AccountID
	session, err := cc.checkout.CreateSession(c.UserContext(), billing.CreateSessionInput{
		AccountID: &accountID,
		Email:     email,
		Plan:      req.Plan,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toSessionResponse(session))
}

// HandleGetSession returns one of the caller's sessions.
func (cc *CheckoutController) HandleGetSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	session, err := cc.checkout.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if !uc.IsAdmin && (session.AccountID == nil || *session.AccountID != uc.AccountID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "checkout session not found"})
	}
	return c.JSON(toSessionResponse(session))
}

// HandleCancelSession abandons an open session owned by the caller.
func (cc *CheckoutController) HandleCancelSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	session, err := cc.checkout.Cancel(c.UserContext(), c.Params("id"), uc.AccountID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toSessionResponse(session))
}

// HandlePaymentWebhook receives provider deliveries. Any non-2xx answer makes the
// provider redeliver.
func (cc *CheckoutController) HandlePaymentWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	result, err := cc.checkout.HandleWebhook(c.UserContext(), payload, c.Get("signature"))
	if errors.Is(err, billing.ErrInvalidSignature) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "invalid webhook signature"})
	}
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if result.Status == billing.WebhookAccepted {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(result)
}
