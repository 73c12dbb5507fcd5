// README: Subscription topics keyed by entity kind and id.
package realtime

import (
	"errors"
	"strings"

	"trackd/internal/types"
)

type Kind string

const (
	KindOrder      Kind = "order"
	KindUser       Kind = "user"
	KindRestaurant Kind = "restaurant"
	KindDriver     Kind = "driver"
)

var ErrBadTopic = errors.New("malformed topic")

type Topic struct {
	Kind Kind
	ID   types.ID
}

func (t Topic) String() string { return string(t.Kind) + ":" + string(t.ID) }

func OrderTopic(id types.ID) Topic      { return Topic{Kind: KindOrder, ID: id} }
func UserTopic(id types.ID) Topic       { return Topic{Kind: KindUser, ID: id} }
func RestaurantTopic(id types.ID) Topic { return Topic{Kind: KindRestaurant, ID: id} }
func DriverTopic(id types.ID) Topic     { return Topic{Kind: KindDriver, ID: id} }

// ParseTopic accepts "kind:id" with one of the four known kinds.
func ParseTopic(s string) (Topic, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return Topic{}, ErrBadTopic
	}
	switch Kind(kind) {
	case KindOrder, KindUser, KindRestaurant, KindDriver:
		return Topic{Kind: Kind(kind), ID: types.ID(id)}, nil
	default:
		return Topic{}, ErrBadTopic
	}
}
