// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, name string) (Rate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT name, base_fare, per_km, per_minute, surge, currency
		FROM pricing_rates
		WHERE name = $1`, name,
	)
	var r Rate
	err := row.Scan(&r.Name, &r.BaseFare, &r.PerKm, &r.PerMinute, &r.Surge, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, fmt.Errorf("rate %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}
