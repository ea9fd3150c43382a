// README: Ride store backed by PostgreSQL; transitions are conditional on the row version.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

const rideColumns = `
	id, rider_id, driver_id, preferred_driver_id, status, version,
	pickup_lat, pickup_lng, destination_lat, destination_lng,
	base_fare, distance_fare, time_fare, surge, total_fare, currency,
	distance_meters, duration_seconds, scheduled_for,
	requested_at, updated_at, accepted_at, started_at, completed_at, cancelled_at,
	cancelled_by, cancellation_reason`

type RideStore struct {
	db *pgxpool.Pool
}

func NewRideStore(db *pgxpool.Pool) *RideStore {
	return &RideStore{db: db}
}

func (s *RideStore) Create(ctx context.Context, r ride.Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (`+rideColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19,
			$20, $21, $22, $23, $24, $25,
			$26, $27
		)`,
		string(r.ID), string(r.RiderID), idPtr(r.DriverID), idPtr(r.PreferredDriverID), string(r.Status), r.Version,
		r.Pickup.Lat, r.Pickup.Lng, r.Destination.Lat, r.Destination.Lng,
		r.Fare.BaseFare, r.Fare.DistanceFare, r.Fare.TimeFare, r.Fare.Surge, r.Fare.TotalFare, r.Fare.Currency,
		r.DistanceMeters, r.DurationSeconds, r.ScheduledFor,
		r.RequestedAt, r.UpdatedAt, r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		rolePtr(r.CancelledBy), r.CancellationReason,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	return err
}

// Update writes the mutable columns only while the stored version matches.
// Immutable columns (rider, pickup, fare, requested_at) are never rewritten.
func (s *RideStore) Update(ctx context.Context, next ride.Ride, expectedVersion int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1,
		    version = $2,
		    driver_id = $3,
		    updated_at = $4,
		    accepted_at = $5,
		    started_at = $6,
		    completed_at = $7,
		    cancelled_at = $8,
		    cancelled_by = $9,
		    cancellation_reason = $10
		WHERE id = $11 AND version = $12`,
		string(next.Status),
		next.Version,
		idPtr(next.DriverID),
		next.UpdatedAt,
		next.AcceptedAt,
		next.StartedAt,
		next.CompletedAt,
		next.CancelledAt,
		rolePtr(next.CancelledBy),
		next.CancellationReason,
		string(next.ID),
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the ride is gone or someone else moved it.
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, string(next.ID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("ride %s: %w", next.ID, types.ErrNotFound)
	}
	return ride.ErrVersionConflict
}

func (s *RideStore) Get(ctx context.Context, id types.ID) (ride.Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ride.Ride{}, fmt.Errorf("ride %s: %w", id, types.ErrNotFound)
	}
	return r, err
}

func (s *RideStore) Query(ctx context.Context, f ride.Filter) ([]ride.Ride, error) {
	var where []string
	var args []any
	if f.RiderID != nil {
		args = append(args, string(*f.RiderID))
		where = append(where, fmt.Sprintf("rider_id = $%d", len(args)))
	}
	if f.DriverID != nil {
		args = append(args, string(*f.DriverID))
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	q := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY requested_at DESC, id ASC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ride.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (ride.Ride, error) {
	var r ride.Ride
	var id, riderID, status string
	var driverID, preferredID, cancelledBy *string

	err := row.Scan(
		&id, &riderID, &driverID, &preferredID, &status, &r.Version,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Destination.Lat, &r.Destination.Lng,
		&r.Fare.BaseFare, &r.Fare.DistanceFare, &r.Fare.TimeFare, &r.Fare.Surge, &r.Fare.TotalFare, &r.Fare.Currency,
		&r.DistanceMeters, &r.DurationSeconds, &r.ScheduledFor,
		&r.RequestedAt, &r.UpdatedAt, &r.AcceptedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&cancelledBy, &r.CancellationReason,
	)
	if err != nil {
		return ride.Ride{}, err
	}
	r.ID = types.ID(id)
	r.RiderID = types.ID(riderID)
	r.Status = ride.Status(status)
	r.DriverID = toID(driverID)
	r.PreferredDriverID = toID(preferredID)
	if cancelledBy != nil {
		role := types.Role(*cancelledBy)
		r.CancelledBy = &role
	}
	r.RequestedAt = r.RequestedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.ScheduledFor = utcPtr(r.ScheduledFor)
	r.AcceptedAt = utcPtr(r.AcceptedAt)
	r.StartedAt = utcPtr(r.StartedAt)
	r.CompletedAt = utcPtr(r.CompletedAt)
	r.CancelledAt = utcPtr(r.CancelledAt)
	return r, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func rolePtr(v *types.Role) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toID(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func utcPtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := v.UTC()
	return &t
}
