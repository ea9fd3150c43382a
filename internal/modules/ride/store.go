// README: Persistence and collaborator ports consumed by the ride service.
package ride

import (
	"context"
	"time"

	"ridecore/internal/modules/pricing"
	"ridecore/internal/types"
)

// Filter selects rides for a history query. Nil fields do not filter.
type Filter struct {
	RiderID  *types.ID
	DriverID *types.ID
}

// Store persists rides. Update must be atomic and conditional: it applies
// next only while the stored version still equals expectedVersion, and
// otherwise returns ErrVersionConflict without touching the record.
type Store interface {
	Create(ctx context.Context, r Ride) error
	Update(ctx context.Context, next Ride, expectedVersion int) error
	Get(ctx context.Context, id types.ID) (Ride, error)
	// Query returns matching rides, most recently requested first.
	Query(ctx context.Context, f Filter) ([]Ride, error)
}

type Pricer interface {
	Quote(ctx context.Context, distanceMeters, durationSeconds float64, surge *float64) (pricing.Breakdown, error)
}

// Router supplies distance and duration estimates at request time.
type Router interface {
	Estimate(ctx context.Context, from, to types.Point) (Estimate, error)
}

// DriverLookup lets the service check availability before binding a driver.
type DriverLookup interface {
	IsOnline(id types.ID) bool
}

// Event is emitted after every committed transition.
type Event struct {
	RideID    types.ID   `json:"ride_id"`
	From      Status     `json:"from_status"`
	To        Status     `json:"to_status"`
	ActorID   types.ID   `json:"actor_id"`
	ActorRole types.Role `json:"actor_role"`
	At        time.Time  `json:"at"`
	Ride      Ride       `json:"ride"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
