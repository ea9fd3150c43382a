// README: Driver availability persisted to PostgreSQL for directory warm-up.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

type DriverStore struct {
	db *pgxpool.Pool
}

func NewDriverStore(db *pgxpool.Pool) *DriverStore {
	return &DriverStore{db: db}
}

// SaveDriver upserts the record. A record older than the stored one is
// ignored so out-of-order sink calls cannot roll a driver back.
func (s *DriverStore) SaveDriver(ctx context.Context, r driver.Record) error {
	var lat, lng *float64
	if r.Position != nil {
		lat, lng = &r.Position.Lat, &r.Position.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, lat, lng, online, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    online = EXCLUDED.online,
		    updated_at = EXCLUDED.updated_at
		WHERE drivers.updated_at <= EXCLUDED.updated_at`,
		string(r.ID), lat, lng, r.Online, r.UpdatedAt,
	)
	return err
}

func (s *DriverStore) LoadDrivers(ctx context.Context) ([]driver.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, lat, lng, online, updated_at
		FROM drivers
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []driver.Record
	for rows.Next() {
		var id string
		var lat, lng *float64
		var r driver.Record
		if err := rows.Scan(&id, &lat, &lng, &r.Online, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.ID = types.ID(id)
		r.UpdatedAt = r.UpdatedAt.UTC()
		if lat != nil && lng != nil {
			r.Position = &types.Point{Lat: *lat, Lng: *lng}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
