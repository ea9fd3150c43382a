// README: In-memory driver directory with last-write-wins position updates and radius queries.
package driver

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

// Directory is the live registry of drivers. Records are immutable values
// swapped under the lock, so a reader sees each driver either fully before or
// fully after a concurrent update.
type Directory struct {
	mu      sync.RWMutex
	drivers map[types.ID]Record
	sinks   []Sink

	seq  uint64
	pubs map[types.ID]*publisher
}

// publisher orders sink writes for one driver. Writes carrying a sequence
// older than the last one published are skipped.
type publisher struct {
	mu   sync.Mutex
	last uint64
}

func NewDirectory(sinks ...Sink) *Directory {
	return &Directory{
		drivers: make(map[types.ID]Record),
		sinks:   sinks,
		pubs:    make(map[types.ID]*publisher),
	}
}

// Load replaces the directory contents with the records held by store.
func (d *Directory) Load(ctx context.Context, store Store) error {
	records, err := store.LoadDrivers(ctx)
	if err != nil {
		return fmt.Errorf("load drivers: %w", err)
	}
	next := make(map[types.ID]Record, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		next[r.ID] = r.clone()
	}
	d.mu.Lock()
	d.drivers = next
	d.mu.Unlock()
	log.Printf("[driver] directory loaded %d drivers", len(next))
	return nil
}

// UpsertPosition records a fix and marks the driver online. A fix older than
// the stored one is ignored and reported with accepted=false.
func (d *Directory) UpsertPosition(ctx context.Context, id types.ID, p types.Point, at time.Time) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
	}
	if err := geo.Validate(p); err != nil {
		return false, err
	}

	d.mu.Lock()
	cur, ok := d.drivers[id]
	if ok && at.Before(cur.UpdatedAt) {
		d.mu.Unlock()
		return false, nil
	}
	pos := p
	next := Record{ID: id, Position: &pos, Online: true, UpdatedAt: at}
	d.drivers[id] = next
	pub, seq := d.commitLocked(id)
	d.mu.Unlock()

	d.publish(ctx, pub, seq, next)
	return true, nil
}

// SetOnline toggles availability, registering the driver if unknown.
func (d *Directory) SetOnline(ctx context.Context, id types.ID, online bool) error {
	if id == "" {
		return fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
	}

	d.mu.Lock()
	next := d.drivers[id].clone()
	next.ID = id
	next.Online = online
	d.drivers[id] = next
	pub, seq := d.commitLocked(id)
	d.mu.Unlock()

	d.publish(ctx, pub, seq, next)
	return nil
}

func (d *Directory) Get(id types.ID) (Record, error) {
	d.mu.RLock()
	r, ok := d.drivers[id]
	d.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("driver %s: %w", id, types.ErrNotFound)
	}
	return r.clone(), nil
}

// IsOnline reports whether the driver is registered and online.
func (d *Directory) IsOnline(id types.ID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.drivers[id].Online
}

// Nearby returns online drivers with a known position within radiusKm of
// origin (inclusive), closest first, ties broken by driver id.
func (d *Directory) Nearby(origin types.Point, radiusKm float64) ([]Nearby, error) {
	if err := geo.Validate(origin); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		return nil, fmt.Errorf("%w: radius must be a non-negative number", types.ErrInvalidInput)
	}

	d.mu.RLock()
	var result []Nearby
	for _, r := range d.drivers {
		if !r.Online || r.Position == nil {
			continue
		}
		dist := geo.DistanceKm(origin, *r.Position)
		if dist <= radiusKm {
			result = append(result, Nearby{Driver: r.clone(), DistanceKm: dist})
		}
	}
	d.mu.RUnlock()

	geo.SortByDistance(result,
		func(n Nearby) float64 { return n.DistanceKm },
		func(n Nearby) string { return string(n.Driver.ID) },
	)
	return result, nil
}

// Snapshot returns a copy of every record.
func (d *Directory) Snapshot() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.drivers))
	for _, r := range d.drivers {
		out = append(out, r.clone())
	}
	return out
}

// commitLocked stamps a write for id; d.mu must be held.
func (d *Directory) commitLocked(id types.ID) (*publisher, uint64) {
	d.seq++
	p, ok := d.pubs[id]
	if !ok {
		p = &publisher{}
		d.pubs[id] = p
	}
	return p, d.seq
}

func (d *Directory) publish(ctx context.Context, p *publisher, seq uint64, r Record) {
	if len(d.sinks) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq < p.last {
		return
	}
	p.last = seq
	for _, s := range d.sinks {
		if err := s.Sync(ctx, r.clone()); err != nil {
			log.Printf("[driver] sync %s: %v", r.ID, err)
		}
	}
}
