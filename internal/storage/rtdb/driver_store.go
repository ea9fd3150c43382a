// Package rtdb persists driver availability in Firebase Realtime Database so
// mobile clients can subscribe to /drivers/{id} directly.
package rtdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"firebase.google.com/go/v4/db"

	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

const driversNode = "drivers"

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// driverEntry mirrors one driver under /drivers. Lat/Lng are absent until the
// first fix.
type driverEntry struct {
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Status    string   `json:"status"`
	Timestamp int64    `json:"timestamp"`
}

type DriverStore struct {
	client *db.Client
}

func NewDriverStore(client *db.Client) *DriverStore {
	return &DriverStore{client: client}
}

// SaveDriver writes the record in a transaction so an older record never
// replaces a newer one.
func (s *DriverStore) SaveDriver(ctx context.Context, r driver.Record) error {
	next := toEntry(r)
	ref := s.client.NewRef(driversNode).Child(string(r.ID))
	err := ref.Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var cur *driverEntry
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		if cur != nil && cur.Timestamp > next.Timestamp {
			return cur, nil
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("saving driver %s: %w", r.ID, err)
	}
	return nil
}

func (s *DriverStore) LoadDrivers(ctx context.Context) ([]driver.Record, error) {
	var data map[string]driverEntry
	if err := s.client.NewRef(driversNode).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("loading drivers: %w", err)
	}
	out := make([]driver.Record, 0, len(data))
	for id, e := range data {
		out = append(out, fromEntry(types.ID(id), e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toEntry(r driver.Record) driverEntry {
	e := driverEntry{Status: statusOffline, Timestamp: r.UpdatedAt.UnixMilli()}
	if r.Online {
		e.Status = statusOnline
	}
	if r.Position != nil {
		lat, lng := r.Position.Lat, r.Position.Lng
		e.Lat, e.Lng = &lat, &lng
	}
	return e
}

func fromEntry(id types.ID, e driverEntry) driver.Record {
	r := driver.Record{
		ID:        id,
		Online:    e.Status == statusOnline,
		UpdatedAt: time.UnixMilli(e.Timestamp).UTC(),
	}
	if e.Lat != nil && e.Lng != nil {
		r.Position = &types.Point{Lat: *e.Lat, Lng: *e.Lng}
	}
	return r
}
