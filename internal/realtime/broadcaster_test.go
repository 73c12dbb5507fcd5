package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"trackd/internal/clock"
	"trackd/internal/types"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHub(queue, maxDrops int) *Hub {
	return NewHub(HubOptions{
		QueueSize: queue,
		MaxDrops:  maxDrops,
		Clock:     clock.Fake(epoch),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func drain(c *Conn) []envelope {
	var out []envelope
	for {
		select {
		case f := <-c.Outbound():
			var env envelope
			_ = json.Unmarshal(f.Body, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestPublishDeliversInOrderPerTopic(t *testing.T) {
	h := newTestHub(64, 0)
	a := h.Open(Identity{SubjectID: "a", Role: types.RoleCustomer})
	b := h.Open(Identity{SubjectID: "b", Role: types.RoleCustomer})
	topic := OrderTopic("O1")
	_ = h.Join(a, topic)
	_ = h.Join(b, topic)

	for i := 0; i < 20; i++ {
		if n := h.Publish(topic, Event{Type: EventPositionUpdated, Data: map[string]int{"seq": i}}); n != 2 {
			t.Fatalf("publish %d delivered to %d, want 2", i, n)
		}
	}

	for _, c := range []*Conn{a, b} {
		got := drain(c)
		if len(got) != 20 {
			t.Fatalf("conn %s got %d events, want 20", c.ID(), len(got))
		}
		for i, env := range got {
			data := env.Data.(map[string]any)
			if int(data["seq"].(float64)) != i {
				t.Fatalf("conn %s event %d has seq %v", c.ID(), i, data["seq"])
			}
			if env.Topic != "order:O1" {
				t.Fatalf("topic = %q", env.Topic)
			}
		}
	}
}

func TestLateSubscriberGetsNoReplay(t *testing.T) {
	h := newTestHub(8, 0)
	topic := OrderTopic("O1")
	early := h.Open(Identity{SubjectID: "e"})
	_ = h.Join(early, topic)
	h.Publish(topic, Event{Type: EventStatusChanged})

	late := h.Open(Identity{SubjectID: "l"})
	_ = h.Join(late, topic)
	if got := drain(late); len(got) != 0 {
		t.Fatalf("late subscriber received %d replayed events", len(got))
	}
	if got := drain(early); len(got) != 1 {
		t.Fatalf("early subscriber received %d events, want 1", len(got))
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := newTestHub(2, 0)
	topic := OrderTopic("O1")
	slow := h.Open(Identity{SubjectID: "slow"})
	fast := h.Open(Identity{SubjectID: "fast"})
	_ = h.Join(slow, topic)
	_ = h.Join(fast, topic)

	for i := 0; i < 10; i++ {
		h.Publish(topic, Event{Type: EventPositionUpdated, Data: i})
		drain(fast)
	}
	if got := len(drain(slow)); got != 2 {
		t.Fatalf("slow subscriber queued %d, want its capacity 2", got)
	}
	if slow.Closed() {
		t.Fatal("eviction disabled, slow subscriber must stay open")
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	h := newTestHub(1, 3)
	topic := OrderTopic("O1")
	slow := h.Open(Identity{SubjectID: "slow"})
	_ = h.Join(slow, topic)

	for i := 0; i < 5; i++ {
		h.Publish(topic, Event{Type: EventPositionUpdated, Data: i})
	}
	if !slow.Closed() {
		t.Fatal("expected slow subscriber to be evicted")
	}
	if len(h.Registry().Topics(slow)) != 0 {
		t.Fatal("evicted connection still registered")
	}
	select {
	case <-slow.Done():
	default:
		t.Fatal("Done not closed after eviction")
	}
}

func TestPublishAfterDisconnectReachesNobody(t *testing.T) {
	h := newTestHub(8, 0)
	c := h.Open(Identity{SubjectID: "cust"})
	_ = h.Join(c, OrderTopic("O1"))
	h.Close(c)

	if n := h.Publish(OrderTopic("O1"), Event{Type: EventStatusChanged}); n != 0 {
		t.Fatalf("delivered to %d subscribers after disconnect", n)
	}
	if got := len(drain(c)); got != 0 {
		t.Fatalf("closed connection received %d frames", got)
	}
	if h.Registry().TopicCount() != 0 {
		t.Fatalf("topics left behind: %d", h.Registry().TopicCount())
	}
	h.Close(c)
}

func TestPublishMultiIndependentTopics(t *testing.T) {
	h := newTestHub(8, 0)
	customer := h.Open(Identity{SubjectID: "cust", Role: types.RoleCustomer})
	restaurant := h.Open(Identity{SubjectID: "owner", Role: types.RoleRestaurant, Scope: "R1"})
	watcher := h.Open(Identity{SubjectID: "w"})
	_ = h.Join(watcher, OrderTopic("O1"))

	n := h.PublishMulti([]Topic{
		OrderTopic("O1"),
		UserTopic("cust"),
		RestaurantTopic("R1"),
		DriverTopic(""),
		OrderTopic("O1"),
	}, Event{Type: EventStatusChanged})
	if n != 3 {
		t.Fatalf("delivered %d, want 3", n)
	}
	for _, c := range []*Conn{customer, restaurant, watcher} {
		if got := len(drain(c)); got != 1 {
			t.Fatalf("conn %s got %d events, want exactly 1", c.Identity().SubjectID, got)
		}
	}
}

func TestHomeTopicsAndPolicy(t *testing.T) {
	driver := Identity{SubjectID: "u-d1", Role: types.RoleDriver, Scope: "d1"}
	got := HomeTopics(driver)
	if len(got) != 2 || got[0] != UserTopic("u-d1") || got[1] != DriverTopic("d1") {
		t.Fatalf("HomeTopics = %v", got)
	}

	cases := []struct {
		id    Identity
		topic Topic
		ok    bool
	}{
		{Identity{SubjectID: "g", Role: types.RoleGuest, Guest: true}, OrderTopic("O1"), true},
		{Identity{SubjectID: "g", Role: types.RoleGuest, Guest: true}, RestaurantTopic("R1"), false},
		{driver, DriverTopic("d1"), true},
		{driver, DriverTopic("d2"), false},
		{Identity{SubjectID: "c", Role: types.RoleCustomer}, UserTopic("someone-else"), false},
		{Identity{SubjectID: "a", Role: types.RoleAdmin}, RestaurantTopic("R1"), true},
	}
	for i, tc := range cases {
		err := CanJoin(tc.id, tc.topic)
		if (err == nil) != tc.ok {
			t.Errorf("case %d: CanJoin(%+v, %s) = %v, want ok=%v", i, tc.id, tc.topic, err, tc.ok)
		}
	}
}

func BenchmarkPublish(b *testing.B) {
	h := newTestHub(64, 0)
	topic := OrderTopic("O1")
	for i := 0; i < 50; i++ {
		_ = h.Join(h.Open(Identity{SubjectID: types.ID(fmt.Sprintf("c%d", i))}), topic)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Publish(topic, Event{Type: EventPositionUpdated, Data: i})
	}
}
