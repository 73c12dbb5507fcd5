// README: Customer notifications triggered by committed status changes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trackd/internal/modules/order"
	"trackd/internal/types"
)

// Notifier delivers one message to a user through some out-of-band channel.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, title, message string, payload map[string]string) error
}

type Message struct {
	UserID  types.ID
	Title   string
	Body    string
	Payload map[string]string
}

// Dispatcher queues a customer message per status change and sends them
// from Run. OnStatusChanged never blocks; a full queue drops the message.
type Dispatcher struct {
	notifier Notifier
	queue    chan Message
	timeout  time.Duration
	logger   *slog.Logger
}

func NewDispatcher(n Notifier, size int, logger *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifier: n, queue: make(chan Message, size), timeout: 10 * time.Second, logger: logger}
}

func (d *Dispatcher) OnStatusChanged(_ context.Context, change order.StatusChange, _ order.Order) {
	title, body, ok := customerMessage(change)
	if !ok {
		return
	}
	msg := Message{
		UserID: change.CustomerID,
		Title:  title,
		Body:   body,
		Payload: map[string]string{
			"type":       "status_changed",
			"order_id":   string(change.OrderID),
			"old_status": string(change.OldStatus),
			"new_status": string(change.NewStatus),
			"eta":        fmt.Sprint(change.ETAMinutes),
		},
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("notification queue full, dropping", "order_id", change.OrderID)
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.notifier.Notify(sendCtx, msg.UserID, msg.Title, msg.Body, msg.Payload)
			cancel()
			if err != nil {
				d.logger.Warn("notify customer", "user_id", msg.UserID, "error", err)
			}
		}
	}
}

func customerMessage(ch order.StatusChange) (title, body string, ok bool) {
	switch ch.NewStatus {
	case order.StatusConfirmed:
		return "Order confirmed", fmt.Sprintf("The restaurant accepted your order. About %d min to go.", ch.ETAMinutes), true
	case order.StatusPreparing:
		return "Being prepared", "Your food is being prepared.", true
	case order.StatusReady:
		return "Ready for pickup", "Your order is packed and waiting for a driver.", true
	case order.StatusPickedUp:
		return "Picked up", "Your driver has your order.", true
	case order.StatusOnTheWay:
		return "On the way", fmt.Sprintf("Arriving in about %d min.", ch.ETAMinutes), true
	case order.StatusDelivered:
		return "Delivered", "Enjoy your meal!", true
	case order.StatusCancelled:
		return "Order cancelled", "Your order was cancelled.", true
	}
	return "", "", false
}

// LogNotifier stands in when no push provider is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID types.ID, title, message string, _ map[string]string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "user_id", userID, "title", title, "message", message)
	return nil
}
