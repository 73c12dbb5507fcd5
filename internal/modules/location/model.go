// README: Driver position samples as cached and broadcast.
package location

import (
	"time"

	"trackd/internal/types"
)

const (
	SourceDriver    = "driver"
	SourceSimulated = "simulated"
)

// Sample is one driver position for one order as cached. Broadcasts use
// its flat Update form.
type Sample struct {
	OrderID    types.ID    `json:"order_id"`
	DriverID   types.ID    `json:"driver_id,omitempty"`
	Position   types.Point `json:"position"`
	Progress   *float64    `json:"progress,omitempty"`
	Source     string      `json:"source"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// PositionUpdate is the position_updated wire payload.
type PositionUpdate struct {
	OrderID   types.ID  `json:"order_id"`
	DriverID  types.ID  `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Progress  *float64  `json:"progress,omitempty"`
	Source    string    `json:"source"`
}

func (s Sample) Update() PositionUpdate {
	return PositionUpdate{
		OrderID:   s.OrderID,
		DriverID:  s.DriverID,
		Lat:       s.Position.Lat,
		Lng:       s.Position.Lng,
		Timestamp: s.RecordedAt,
		Progress:  s.Progress,
		Source:    s.Source,
	}
}
