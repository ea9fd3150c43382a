// README: Driver directory records and query results.
package driver

import (
	"context"
	"time"

	"ridecore/internal/types"
)

// Record is one driver's availability and last known fix. A nil Position
// means no fix has been reported yet.
type Record struct {
	ID        types.ID     `json:"driver_id"`
	Position  *types.Point `json:"position,omitempty"`
	Online    bool         `json:"online"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (r Record) clone() Record {
	if r.Position != nil {
		p := *r.Position
		r.Position = &p
	}
	return r
}

// Nearby is a proximity query hit.
type Nearby struct {
	Driver     Record  `json:"driver"`
	DistanceKm float64 `json:"distance_km"`
}

// Store is the persistence port for driver records.
type Store interface {
	SaveDriver(ctx context.Context, r Record) error
	LoadDrivers(ctx context.Context) ([]Record, error)
}

// Sink receives every record the directory commits, after the commit.
type Sink interface {
	Sync(ctx context.Context, r Record) error
}

// StoreSink adapts a Store to a Sink.
type StoreSink struct {
	Store Store
}

func (s StoreSink) Sync(ctx context.Context, r Record) error {
	return s.Store.SaveDriver(ctx, r)
}
