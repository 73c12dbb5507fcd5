// README: Mirrors order positions into Firebase RTDB for mobile clients.
package location

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"
)

// rtdbPosition mirrors a single entry stored under /order_positions.
type rtdbPosition struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	DriverID  string  `json:"driver_id"`
	Timestamp int64   `json:"timestamp"`
}

// RTDBMirror writes every recorded sample to /order_positions/{orderID}
// so apps can listen to a single node instead of holding a socket.
type RTDBMirror struct {
	client *db.Client
}

func NewRTDBMirror(client *db.Client) *RTDBMirror {
	return &RTDBMirror{client: client}
}

func (m *RTDBMirror) Mirror(ctx context.Context, s Sample) error {
	ref := m.client.NewRef("order_positions").Child(string(s.OrderID))
	err := ref.Set(ctx, rtdbPosition{
		Lat:       s.Position.Lat,
		Lng:       s.Position.Lng,
		DriverID:  string(s.DriverID),
		Timestamp: s.RecordedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("mirror position for order %s: %w", s.OrderID, err)
	}
	return nil
}
