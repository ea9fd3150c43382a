// Package memory provides in-process implementations of the persistence
// ports, used when no database is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

type rideEntry struct {
	mu   sync.Mutex
	ride ride.Ride
}

// RideStore keeps one lock per ride; the map lock only guards membership.
type RideStore struct {
	mu    sync.RWMutex
	rides map[types.ID]*rideEntry
}

func NewRideStore() *RideStore {
	return &RideStore{rides: make(map[types.ID]*rideEntry)}
}

func (s *RideStore) Create(_ context.Context, r ride.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	s.rides[r.ID] = &rideEntry{ride: r.Clone()}
	return nil
}

func (s *RideStore) Update(_ context.Context, next ride.Ride, expectedVersion int) error {
	e, err := s.entry(next.ID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Version != expectedVersion {
		return ride.ErrVersionConflict
	}
	e.ride = next.Clone()
	return nil
}

func (s *RideStore) Get(_ context.Context, id types.ID) (ride.Ride, error) {
	e, err := s.entry(id)
	if err != nil {
		return ride.Ride{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ride.Clone(), nil
}

func (s *RideStore) Query(_ context.Context, f ride.Filter) ([]ride.Ride, error) {
	s.mu.RLock()
	entries := make([]*rideEntry, 0, len(s.rides))
	for _, e := range s.rides {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []ride.Ride
	for _, e := range entries {
		e.mu.Lock()
		r := e.ride.Clone()
		e.mu.Unlock()
		if f.RiderID != nil && r.RiderID != *f.RiderID {
			continue
		}
		if f.DriverID != nil && !r.IsBoundDriver(*f.DriverID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *RideStore) entry(id types.ID) (*rideEntry, error) {
	s.mu.RLock()
	e, ok := s.rides[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", id, types.ErrNotFound)
	}
	return e, nil
}
