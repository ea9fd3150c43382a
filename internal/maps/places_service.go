package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"ridecore/internal/types"
)

// biasRadiusMeters is how far around the caller autocomplete results are favoured.
const biasRadiusMeters = 50000

// Suggestion is one autocomplete prediction.
type Suggestion struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}

// Place is a resolved pickup or destination.
type Place struct {
	PlaceID  string      `json:"place_id"`
	Name     string      `json:"name"`
	Address  string      `json:"address"`
	Location types.Point `json:"location"`
}

// PlacesService resolves free-text addresses into coordinates.
type PlacesService struct {
	client *maps.Client
}

func NewPlacesService(apiKey string, opts ...maps.ClientOption) (*PlacesService, error) {
	client, err := newClient(apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return &PlacesService{client: client}, nil
}

// Autocomplete suggests addresses matching query, biased towards near when given.
func (s *PlacesService) Autocomplete(ctx context.Context, query string, near *types.Point) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", types.ErrInvalidInput)
	}

	r := &maps.PlaceAutocompleteRequest{
		Input: query,
		Types: maps.AutocompletePlaceTypeAddress,
	}
	if near != nil {
		r.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lng}
		r.Radius = biasRadiusMeters
	}

	resp, err := s.client.PlaceAutocomplete(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}

	out := make([]Suggestion, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		out = append(out, Suggestion{PlaceID: p.PlaceID, Description: p.Description})
	}
	return out, nil
}

// Details resolves a place id to its name, address and coordinates.
func (s *PlacesService) Details(ctx context.Context, placeID string) (Place, error) {
	if placeID == "" {
		return Place{}, fmt.Errorf("%w: empty place id", types.ErrInvalidInput)
	}
	r := &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields: []maps.PlaceDetailsFieldMask{
			maps.PlaceDetailsFieldMaskName,
			maps.PlaceDetailsFieldMaskFormattedAddress,
			maps.PlaceDetailsFieldMaskGeometry,
		},
	}
	res, err := s.client.PlaceDetails(ctx, r)
	if err != nil {
		return Place{}, fmt.Errorf("places api error: %w", err)
	}
	return Place{
		PlaceID:  placeID,
		Name:     res.Name,
		Address:  res.FormattedAddress,
		Location: types.Point{Lat: res.Geometry.Location.Lat, Lng: res.Geometry.Location.Lng},
	}, nil
}
