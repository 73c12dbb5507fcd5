// README: Server-pushed events and their wire envelope.
package realtime

import (
	"encoding/json"
	"time"
)

const (
	EventStatusChanged   = "status_changed"
	EventPositionUpdated = "position_updated"
	EventNewOrder        = "new_order"

	FrameAck   = "ack"
	FrameError = "error"
	FramePong  = "pong"
)

type Event struct {
	Type string
	Data any
}

// Frame is one encoded message queued for a single connection. Body is
// shared between every subscriber of a publish and must not be mutated.
type Frame struct {
	Type  string
	Topic string
	Body  []byte
}

type envelope struct {
	Type   string    `json:"type"`
	Topic  string    `json:"topic,omitempty"`
	Ref    string    `json:"ref,omitempty"`
	Data   any       `json:"data,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

func encodeEvent(topic Topic, ev Event, now time.Time) (Frame, error) {
	body, err := json.Marshal(envelope{Type: ev.Type, Topic: topic.String(), Data: ev.Data, SentAt: now})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: ev.Type, Topic: topic.String(), Body: body}, nil
}

// Reply builds a direct response to a client request identified by ref.
func Reply(kind, ref string, data any, now time.Time) Frame {
	body, err := json.Marshal(envelope{Type: kind, Ref: ref, Data: data, SentAt: now})
	if err != nil {
		body, _ = json.Marshal(envelope{Type: FrameError, Ref: ref, Data: map[string]string{"code": "encode_failed"}, SentAt: now})
		kind = FrameError
	}
	return Frame{Type: kind, Body: body}
}
