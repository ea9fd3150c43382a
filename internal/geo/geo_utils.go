// Package geo contains pure geographic computation helpers shared by pricing,
// the driver directory, and location tracking.
package geo

import (
	"fmt"
	"math"
	"sort"

	"ridecore/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h slightly outside [0, 1] near identical or antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// DistanceMeters is DistanceKm scaled to metres.
func DistanceMeters(a, b types.Point) float64 {
	return DistanceKm(a, b) * 1000
}

// Validate reports whether p is a usable coordinate.
func Validate(p types.Point) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("%w: coordinate is not finite", types.ErrInvalidInput)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", types.ErrInvalidInput, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", types.ErrInvalidInput, p.Lng)
	}
	return nil
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance orders items ascending by distance; equal distances fall
// back to the key accessor so results are deterministic.
func SortByDistance[T any](items []T, dist func(T) float64, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := dist(items[i]), dist(items[j])
		if di != dj {
			return di < dj
		}
		return key(items[i]) < key(items[j])
	})
}
