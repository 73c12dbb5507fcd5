// README: Shared identifiers, coordinates and actor roles.
package types

// ID is an opaque entity identifier (order, user, restaurant, driver).
type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role is the identity class claimed by a caller at handshake or request time.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
	RoleGuest      Role = "guest"
)

// ParseRole maps a free-form claim to a Role. Unknown or empty claims are customers.
func ParseRole(v string) Role {
	switch Role(v) {
	case RoleRestaurant, RoleDriver, RoleAdmin, RoleSystem, RoleGuest:
		return Role(v)
	default:
		return RoleCustomer
	}
}
