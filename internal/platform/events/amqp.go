package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange events are published to, routed by type.
const Exchange = "clinic.events"

var errPublisherClosed = errors.New("amqp publisher closed")

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPPublisher publishes to a RabbitMQ topic exchange. amqp channels are not
// goroutine-safe, so publishes are serialised. A channel or connection the
// broker closed is reopened on the next publish.
type AMQPPublisher struct {
	url string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     amqpChannel
	closed bool

	// open replaces the dial path in tests.
	open func() (amqpChannel, error)
}

// DialAMQP connects and declares the exchange. Failing here fails startup;
// later broker restarts are recovered from lazily.
func DialAMQP(url string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url}
	p.open = p.dial
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

// dial reuses the connection while it is alive and opens a fresh channel on
// it, redeclaring the exchange.
func (p *AMQPPublisher) dial() (amqpChannel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	return ch, nil
}

// channel returns a live channel, reopening it if the broker closed it.
// Callers hold p.mu.
func (p *AMQPPublisher) channel() (amqpChannel, error) {
	if p.closed {
		return nil, errPublisherClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         evt.Type,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	if err := ch.PublishWithContext(ctx, Exchange, evt.Type, false, false, msg); err != nil {
		// Drop the channel so the next publish starts from a clean one.
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.ch != nil && !p.ch.IsClosed() {
		err = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
