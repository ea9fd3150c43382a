package maps

import (
	"context"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService. Extra client options (for
// example maps.WithBaseURL) are passed through to the Maps client.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := newClient(apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return &RouteService{client: client}, nil
}

// Estimate returns the driving distance and duration of the first route leg.
func (s *RouteService) Estimate(ctx context.Context, from, to types.Point) (ride.Estimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return ride.Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return ride.Estimate{}, fmt.Errorf("%w: no route found", types.ErrInvalidInput)
	}

	leg := routes[0].Legs[0]
	return ride.Estimate{
		DistanceMeters:  float64(leg.Distance.Meters),
		DurationSeconds: leg.Duration.Seconds(),
	}, nil
}

func newClient(apiKey string, opts ...maps.ClientOption) (*maps.Client, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
