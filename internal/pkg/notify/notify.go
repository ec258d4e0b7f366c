// Package notify fans out user and operator notifications. Delivery is best-effort:
// a failing channel is logged and never blocks the state change that triggered it.
package notify

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
)

// Message kinds. They double as AMQP routing keys.
const (
	KindEntitlementGranted     = "entitlement.granted"
	KindEntitlementRevoked     = "entitlement.revoked"
	KindManualPaymentSubmitted = "manual_payment.submitted"
	KindManualPaymentApproved  = "manual_payment.approved"
	KindManualPaymentRejected  = "manual_payment.rejected"
	KindCheckoutConfirmed      = "checkout.confirmed"
	KindOperatorAlert          = "operator.alert"
)

// Message is a channel-neutral notification.
type Message struct {
	Kind      string                 `json:"kind"`
	AccountID uint                   `json:"account_id,omitempty"`
	Email     string                 `json:"email,omitempty"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// IsOperator reports whether the message targets the operator channel rather than the account holder.
func (m Message) IsOperator() bool {
	return m.Kind == KindOperatorAlert
}

// Notifier delivers a message on one channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Nop discards every message.
var Nop Notifier = NotifierFunc(func(context.Context, Message) error { return nil })

// Dispatcher sends each message to every configured channel.
type Dispatcher struct {
	channels []Notifier
}

// NewDispatcher skips nil channels.
func NewDispatcher(channels ...Notifier) *Dispatcher {
	d := &Dispatcher{}
	for _, c := range channels {
		if c != nil {
			d.channels = append(d.channels, c)
		}
	}
	return d
}

// Notify never returns an error; channel failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	for _, c := range d.channels {
		if err := c.Notify(ctx, msg); err != nil {
			log.Errorf("[Notify] %s delivery failed (account %d): %v", msg.Kind, msg.AccountID, err)
		}
	}
	return nil
}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop
	}
	return n
}
