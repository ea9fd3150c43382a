// README: Pricing service computes fare quotes from route estimates.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"ridecore/internal/types"
)

type Service struct {
	store    *Store
	fallback Rate
}

func NewService(store *Store) *Service {
	return &Service{store: store, fallback: DefaultRate}
}

// NewServiceWithRate returns a store-less Service pricing every quote with rate.
func NewServiceWithRate(rate Rate) *Service {
	return &Service{fallback: rate}
}

// WithRateName selects which stored rate Quote looks up.
func (s *Service) WithRateName(name string) *Service {
	if name != "" {
		s.fallback.Name = name
	}
	return s
}

// Price converts a route estimate into a fare breakdown. It is a pure
// function of its inputs.
func Price(distanceMeters, durationSeconds float64, rate Rate) (Breakdown, error) {
	if !isFinite(distanceMeters) || distanceMeters < 0 {
		return Breakdown{}, fmt.Errorf("%w: distance must be a non-negative number", types.ErrInvalidInput)
	}
	if !isFinite(durationSeconds) || durationSeconds < 0 {
		return Breakdown{}, fmt.Errorf("%w: duration must be a non-negative number", types.ErrInvalidInput)
	}
	if !isFinite(rate.Surge) || rate.Surge <= 0 {
		return Breakdown{}, fmt.Errorf("%w: surge must be positive", types.ErrInvalidInput)
	}

	distanceFare := (distanceMeters / 1000) * rate.PerKm
	timeFare := (durationSeconds / 60) * rate.PerMinute
	total := (rate.BaseFare + distanceFare + timeFare) * rate.Surge

	return Breakdown{
		BaseFare:     rate.BaseFare,
		DistanceFare: distanceFare,
		TimeFare:     timeFare,
		Surge:        rate.Surge,
		TotalFare:    Round2(total),
		Currency:     rate.Currency,
	}, nil
}

// Round2 rounds half-up to two decimal places. The epsilon absorbs binary
// representation error such as 1.005*100 == 100.49999999999999.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5+1e-9) / 100
}

// Quote prices a trip with the active rate. A nil surge keeps the rate's own multiplier.
func (s *Service) Quote(ctx context.Context, distanceMeters, durationSeconds float64, surge *float64) (Breakdown, error) {
	rate := s.activeRate(ctx)
	if surge != nil {
		rate.Surge = *surge
	}
	return Price(distanceMeters, durationSeconds, rate)
}

func (s *Service) activeRate(ctx context.Context) Rate {
	if s.store == nil {
		return s.fallback
	}
	rate, err := s.store.GetRate(ctx, s.fallback.Name)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			log.Printf("[pricing] load rate %q: %v; using default", s.fallback.Name, err)
		}
		return s.fallback
	}
	return rate
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
