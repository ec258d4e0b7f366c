package billing

import (
	"context"
	"errors"
	"strings"
)

// ErrAwaitingAccount is returned when a confirmed checkout cannot be matched to an
// account yet. The session stays confirmed and the grant is retried later.
var ErrAwaitingAccount = errors.New("checkout confirmed, awaiting account")

// ErrInvalidSignature is returned for webhook deliveries that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Provider-side checkout statuses.
const (
	ProviderStatusPaid     = "paid"
	ProviderStatusPending  = "pending"
	ProviderStatusFailed   = "failed"
	ProviderStatusCanceled = "canceled"
	ProviderStatusExpired  = "expired"
)

// PaymentProvider is the card payment collaborator.
type PaymentProvider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*ProviderCheckout, error)
	VerifySignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// CheckoutRequest is what the provider needs to open a hosted checkout.
type CheckoutRequest struct {
	Plan       string
	Amount     int64
	Currency   string
	Email      string
	SuccessURL string
	FailureURL string
	Metadata   map[string]string
}

// ProviderCheckout is the provider's answer to CreateCheckoutSession.
type ProviderCheckout struct {
	ID          string
	CheckoutURL string
	Status      string
}

// WebhookEvent is a parsed provider delivery.
type WebhookEvent struct {
	EventID   string
	Type      string
	SessionID string
	Status    string
}

// IsTerminal reports whether the delivery settles the checkout one way or the other.
func (e *WebhookEvent) IsTerminal() bool {
	switch e.Status {
	case ProviderStatusPaid, ProviderStatusFailed, ProviderStatusCanceled, ProviderStatusExpired:
		return true
	default:
		return false
	}
}

// RetryQueue schedules another grant attempt for a confirmed session.
type RetryQueue interface {
	EnqueueConfirmationRetry(ctx context.Context, sessionID string) error
}

// CreateSessionInput starts a checkout. The amount is never accepted from the caller.
type CreateSessionInput struct {
	AccountID *uint
	Email     string
	Plan      string
}

// ConfirmationEvent reports the provider outcome of a checkout.
type ConfirmationEvent struct {
	SessionID string
	Status    string
}

// Paid reports whether the provider captured the payment.
func (e ConfirmationEvent) Paid() bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), ProviderStatusPaid)
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	SessionID       string
	PayloadJSON     string
	SignatureValid  bool
}

// Webhook outcomes returned to the provider.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookAccepted  = "accepted"
)

// WebhookResult summarizes how a delivery was handled.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}
