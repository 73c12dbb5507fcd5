// README: Publishes committed status changes to a RabbitMQ fanout exchange.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"trackd/internal/modules/order"
)

const EventStatusChanged = "order.status_changed"

type Connection interface {
	Channel() (Channel, error)
	Close() error
}

type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a fresh broker connection.
type Dialer func() (Connection, error)

type amqpConnection struct {
	conn *amqp.Connection
}

// WrapConnection adapts a dialled connection to Connection.
func WrapConnection(conn *amqp.Connection) Connection {
	return &amqpConnection{conn: conn}
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

func (c *amqpConnection) Close() error {
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

type busMessage struct {
	Event string             `json:"event"`
	Data  order.StatusChange `json:"data"`
}

// EventBus forwards status changes to external consumers (stats, SMS and
// email workers). Messages are queued by OnStatusChanged and published in
// order by Run over a single channel. The connection is dialled lazily and
// redialled when it stops handing out channels.
type EventBus struct {
	dial     Dialer
	exchange string
	queue    chan order.StatusChange
	logger   *slog.Logger

	conn Connection
	ch   Channel
}

func NewEventBus(dial Dialer, exchange string, size int, logger *slog.Logger) *EventBus {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{dial: dial, exchange: exchange, queue: make(chan order.StatusChange, size), logger: logger}
}

func (b *EventBus) OnStatusChanged(_ context.Context, change order.StatusChange, _ order.Order) {
	select {
	case b.queue <- change:
	default:
		b.logger.Warn("event bus queue full, dropping", "order_id", change.OrderID, "status", change.NewStatus)
	}
}

func (b *EventBus) Run(ctx context.Context) error {
	defer b.closeConn()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-b.queue:
			if err := b.publish(ctx, change); err != nil {
				b.logger.Warn("publish status change", "order_id", change.OrderID, "error", err)
				b.closeChannel()
			}
		}
	}
}

func (b *EventBus) publish(ctx context.Context, change order.StatusChange) error {
	ch, err := b.channel()
	if err != nil && b.conn == nil {
		// The connection was dropped as dead; one fresh dial before giving up.
		ch, err = b.channel()
	}
	if err != nil {
		return err
	}

	body, err := json.Marshal(busMessage{Event: EventStatusChanged, Data: change})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         EventStatusChanged,
		Timestamp:    change.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// channel returns the open channel, dialling and declaring the exchange as
// needed. A connection that cannot open a channel is closed and forgotten.
func (b *EventBus) channel() (Channel, error) {
	if b.ch != nil {
		return b.ch, nil
	}
	if b.conn == nil {
		conn, err := b.dial()
		if err != nil {
			return nil, fmt.Errorf("failed to dial broker: %w", err)
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		b.closeConn()
		return nil, err
	}
	if err := ch.ExchangeDeclare(b.exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	b.ch = ch
	return ch, nil
}

func (b *EventBus) closeConn() {
	b.closeChannel()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

func (b *EventBus) closeChannel() {
	if b.ch != nil {
		_ = b.ch.Close()
		b.ch = nil
	}
}
