// README: Shared identifiers, coordinates, and roles used across modules.
package types

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver
}

// Actor is the authenticated caller of a command, as supplied by the identity layer.
type Actor struct {
	ID   ID
	Role Role
}
