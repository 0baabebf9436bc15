// Package events publishes ledger lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys
const (
	TransactionCompleted    = "transaction.completed"
	TransactionRetrying     = "transaction.retrying"
	TransactionDeadLettered = "transaction.dead_lettered"
)

// TransactionEvent is published whenever the processor settles a job.
type TransactionEvent struct {
	JobID          string    `json:"job_id"`
	JobType        string    `json:"job_type"`
	TransactionIDs []string  `json:"transaction_ids"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher is implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	PublishTransactionEvent(ctx context.Context, routingKey string, event TransactionEvent) error
	Close()
}

// RabbitPublisher publishes JSON messages to a durable topic exchange.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewRabbitPublisher dials url and declares exchange.
func NewRabbitPublisher(rawURL, exchange string, log *zap.Logger) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &RabbitPublisher{conn: conn, channel: ch, exchange: exchange, log: log.Named("events")}
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *RabbitPublisher) declare() error {
	if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return nil
}

// reopen replaces a closed channel. Must be called with mu held.
func (p *RabbitPublisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declare()
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         data,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.log.Warn("publish failed, reopening channel", zap.String("routing_key", routingKey), zap.Error(err))
	if rerr := p.reopen(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *RabbitPublisher) PublishTransactionEvent(ctx context.Context, routingKey string, event TransactionEvent) error {
	return p.Publish(ctx, routingKey, event)
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher drops events. It is used when RabbitMQ is not configured or
// unreachable at startup.
type NoopPublisher struct {
	log *zap.Logger
}

func NewNoopPublisher(log *zap.Logger) *NoopPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoopPublisher{log: log.Named("events")}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.log.Debug("publish skipped", zap.String("routing_key", routingKey))
	return nil
}

func (p *NoopPublisher) PublishTransactionEvent(ctx context.Context, routingKey string, event TransactionEvent) error {
	return p.Publish(ctx, routingKey, event)
}

func (p *NoopPublisher) Close() {}

// Connect returns a RabbitPublisher for url, or a NoopPublisher when url is
// empty or the broker cannot be reached.
func Connect(rawURL, exchange string, log *zap.Logger) Publisher {
	if strings.TrimSpace(rawURL) == "" {
		log.Info("rabbitmq not configured, events disabled")
		return NewNoopPublisher(log)
	}
	p, err := NewRabbitPublisher(rawURL, exchange, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
		return NewNoopPublisher(log)
	}
	return p
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url must start with amqp:// or amqps://")
	}
	return clean, nil
}
