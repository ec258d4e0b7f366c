// Package events publishes billing domain events to RabbitMQ so downstream services
// (push notifications, analytics) can react to entitlement changes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	AccountID  uint                   `json:"account_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// channel is the subset of *amqp091.Channel used by the publisher.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher holds the RabbitMQ connection and implements notify.Notifier.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	exchange string
	declared bool
}

// NewPublisher dials RabbitMQ.
func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Infof("[Events] Connected to RabbitMQ, publishing to exchange %s", exchange)
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func newPublisherWithChannel(ch channel, exchange string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange}
}

// Notify publishes msg with its kind as routing key.
func (p *Publisher) Notify(ctx context.Context, msg notify.Message) error {
	return p.Publish(ctx, msg.Kind, Envelope{
		ID:         uuid.NewString(),
		Kind:       msg.Kind,
		AccountID:  msg.AccountID,
		Data:       msg.Data,
		OccurredAt: time.Now().UTC(),
	})
}

// Publish sends an envelope to the exchange, reopening the channel once on failure.
func (p *Publisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, routingKey, body)
	if err == nil {
		return nil
	}
	log.Warnf("[Events] Publish %s failed, reopening channel: %v", routingKey, err)
	if reopenErr := p.reopenLocked(); reopenErr != nil {
		return err
	}
	return p.publishLocked(ctx, routingKey, body)
}

func (p *Publisher) publishLocked(ctx context.Context, routingKey string, body []byte) error {
	if !p.declared {
		// durable topic exchange
		if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		p.declared = true
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *Publisher) reopenLocked() error {
	if p.conn == nil {
		return errors.New("no connection")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = false
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
