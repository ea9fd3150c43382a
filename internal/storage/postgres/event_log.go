package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

// EventLog appends committed ride transitions to ride_state_events.
type EventLog struct {
	db *pgxpool.Pool
}

func NewEventLog(db *pgxpool.Pool) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Publish(ctx context.Context, e ride.Event) error {
	var from *string
	if e.From != ride.StatusNone {
		s := string(e.From)
		from = &s
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, actor_role, actor_id, version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.RideID),
		from,
		string(e.To),
		string(e.ActorRole),
		string(e.ActorID),
		e.Ride.Version,
		e.At,
	)
	return err
}

// History returns the transitions recorded for a ride, oldest first.
func (l *EventLog) History(ctx context.Context, rideID types.ID) ([]ride.Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT ride_id, COALESCE(from_status, ''), to_status, actor_role, actor_id, created_at
		FROM ride_state_events
		WHERE ride_id = $1
		ORDER BY version ASC`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ride.Event
	for rows.Next() {
		var e ride.Event
		var id, from, to, role, actor string
		if err := rows.Scan(&id, &from, &to, &role, &actor, &e.At); err != nil {
			return nil, err
		}
		e.RideID = types.ID(id)
		e.From = ride.Status(from)
		e.To = ride.Status(to)
		e.ActorRole = types.Role(role)
		e.ActorID = types.ID(actor)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
