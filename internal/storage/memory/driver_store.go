package memory

import (
	"context"
	"sort"
	"sync"

	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

type DriverStore struct {
	mu      sync.Mutex
	drivers map[types.ID]driver.Record
}

func NewDriverStore() *DriverStore {
	return &DriverStore{drivers: make(map[types.ID]driver.Record)}
}

func (s *DriverStore) SaveDriver(_ context.Context, r driver.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Position != nil {
		p := *r.Position
		r.Position = &p
	}
	s.drivers[r.ID] = r
	return nil
}

func (s *DriverStore) LoadDrivers(_ context.Context) ([]driver.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]driver.Record, 0, len(s.drivers))
	for _, r := range s.drivers {
		if r.Position != nil {
			p := *r.Position
			r.Position = &p
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
