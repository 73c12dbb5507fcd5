package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"trackd/internal/modules/order"
	"trackd/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Message
	done chan struct{}
}

func (r *recordingNotifier) Notify(_ context.Context, userID types.ID, title, message string, payload map[string]string) error {
	r.mu.Lock()
	r.sent = append(r.sent, Message{UserID: userID, Title: title, Body: message, Payload: payload})
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestDispatcherSendsCustomerMessage(t *testing.T) {
	rec := &recordingNotifier{done: make(chan struct{}, 1)}
	d := NewDispatcher(rec, 4, discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.OnStatusChanged(ctx, order.StatusChange{
		OrderID: "O1", CustomerID: "cust-1", OldStatus: order.StatusPlaced, NewStatus: order.StatusConfirmed, ETAMinutes: 40,
	}, order.Order{})

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	got := rec.sent[0]
	if got.UserID != "cust-1" || got.Title != "Order confirmed" || got.Payload["new_status"] != "confirmed" || got.Payload["eta"] != "40" {
		t.Fatalf("sent %+v", got)
	}
}

type blockingNotifier struct{ release chan struct{} }

func (b blockingNotifier) Notify(ctx context.Context, _ types.ID, _, _ string, _ map[string]string) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcherNeverBlocksCaller(t *testing.T) {
	d := NewDispatcher(blockingNotifier{release: make(chan struct{})}, 1, discard)
	// No Run loop: the queue fills after one message and the rest drop.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.OnStatusChanged(context.Background(), order.StatusChange{OrderID: "O1", CustomerID: "c", NewStatus: order.StatusReady}, order.Order{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnStatusChanged blocked")
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	failNext  bool
	closed    int
	sent      chan struct{}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name+"/"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.sent <- struct{}{} }()
	if f.failNext {
		f.failNext = false
		return errors.New("channel closed")
	}
	if exchange != "order_events" || key != "" {
		return errors.New("unexpected routing")
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeConnection struct {
	ch     *fakeChannel
	dead   bool
	opened int
	closed int
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.opened++
	if c.dead {
		return nil, amqp.ErrClosed
	}
	return c.ch, nil
}

func (c *fakeConnection) Close() error {
	c.closed++
	return nil
}

// dialer hands out the given connections in order.
type dialer struct {
	conns []*fakeConnection
	dials int
}

func (d *dialer) dial() (Connection, error) {
	if d.dials >= len(d.conns) {
		return nil, errors.New("connection refused")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func TestEventBusPublishesFanoutAndReopensAfterFailure(t *testing.T) {
	ch := &fakeChannel{failNext: true, sent: make(chan struct{}, 4)}
	conn := &fakeConnection{ch: ch}
	dl := &dialer{conns: []*fakeConnection{conn}}
	bus := NewEventBus(dl.dial, "order_events", 8, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	for _, st := range []order.Status{order.StatusConfirmed, order.StatusPreparing} {
		bus.OnStatusChanged(ctx, order.StatusChange{OrderID: "O1", NewStatus: st}, order.Order{})
		select {
		case <-ch.sent:
		case <-time.After(2 * time.Second):
			t.Fatal("publish not attempted")
		}
	}
	cancel()
	<-done

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.published) != 1 {
		t.Fatalf("published %d, want 1 after one failure", len(ch.published))
	}
	if conn.opened != 2 {
		t.Fatalf("channel opened %d times, want reopen after failure", conn.opened)
	}
	if dl.dials != 1 || conn.closed != 1 {
		t.Fatalf("dials=%d closed=%d, want one connection closed on exit", dl.dials, conn.closed)
	}
	if ch.declared[0] != "order_events/fanout" {
		t.Fatalf("declared %v", ch.declared)
	}
	var msg busMessage
	if err := json.Unmarshal(ch.published[0].Body, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != EventStatusChanged || msg.Data.NewStatus != order.StatusPreparing {
		t.Fatalf("body = %+v", msg)
	}
}

func TestEventBusRedialsDeadConnection(t *testing.T) {
	ch := &fakeChannel{sent: make(chan struct{}, 4)}
	dead := &fakeConnection{dead: true}
	fresh := &fakeConnection{ch: ch}
	dl := &dialer{conns: []*fakeConnection{dead, fresh}}
	bus := NewEventBus(dl.dial, "order_events", 8, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	bus.OnStatusChanged(ctx, order.StatusChange{OrderID: "O1", NewStatus: order.StatusConfirmed}, order.Order{})
	select {
	case <-ch.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("publish not attempted on the redialled connection")
	}
	cancel()
	<-done

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.published) != 1 {
		t.Fatalf("published %d, want the change delivered after redial", len(ch.published))
	}
	if dl.dials != 2 {
		t.Fatalf("dials = %d, want 2", dl.dials)
	}
	if dead.closed != 1 {
		t.Fatalf("dead connection closed %d times, want 1", dead.closed)
	}
}

func TestEventBusSurvivesUnreachableBroker(t *testing.T) {
	dl := &dialer{}
	bus := NewEventBus(dl.dial, "order_events", 8, discard)

	if err := bus.publish(context.Background(), order.StatusChange{OrderID: "O1", NewStatus: order.StatusConfirmed}); err == nil {
		t.Fatal("publish succeeded without a broker")
	}
	if bus.conn != nil || bus.ch != nil {
		t.Fatal("bus kept state from a failed dial")
	}

	ch := &fakeChannel{sent: make(chan struct{}, 1)}
	dl.conns = append(dl.conns, &fakeConnection{ch: ch})
	if err := bus.publish(context.Background(), order.StatusChange{OrderID: "O1", NewStatus: order.StatusPreparing}); err != nil {
		t.Fatalf("publish after broker came back: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published %d, want 1", len(ch.published))
	}
}
