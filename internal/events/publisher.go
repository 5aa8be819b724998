package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher delivers encoded events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
	Close() error
}

var _ Publisher = (*RabbitPublisher)(nil)

// RabbitPublisher publishes events to a durable fanout exchange. A dropped
// connection is redialed on the next Publish; undelivered events stay in the
// outbox meanwhile.
type RabbitPublisher struct {
	url      string
	exchange string
	dial     func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewRabbitPublisher dials url and declares the exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: url, exchange: exchange, dial: amqp.Dial}
	if _, err := p.connection(); err != nil {
		return nil, err
	}
	return p, nil
}

// connection returns the live connection, dialing a new one when the
// previous one was closed by the broker or the network.
func (p *RabbitPublisher) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}

	conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	if err := declareExchange(conn, p.exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func declareExchange(conn *amqp.Connection, exchange string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// Publish sends payload as a persistent message with the event type as the
// routing key.
func (p *RabbitPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	return ch.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         eventType,
		Body:         payload,
	})
}

// Close closes the broker connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

var _ Publisher = LogPublisher{}

// LogPublisher writes events to the request logger. It is used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	zctx.From(ctx).Info("Event published",
		zap.String("event_type", eventType),
		zap.ByteString("payload", payload),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
