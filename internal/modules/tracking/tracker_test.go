package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

var base = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

type dirEvent struct {
	kind   string // "upsert" | "online" | "offline"
	fix    Fix
	driver types.ID
}

type fakeDirectory struct {
	mu      sync.Mutex
	events  []dirEvent
	upserts chan Fix
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{upserts: make(chan Fix, 256)}
}

func (d *fakeDirectory) UpsertPosition(_ context.Context, id types.ID, p types.Point, at time.Time) (bool, error) {
	f := Fix{Position: p, At: at}
	d.mu.Lock()
	d.events = append(d.events, dirEvent{kind: "upsert", fix: f, driver: id})
	d.mu.Unlock()
	d.upserts <- f
	return true, nil
}

func (d *fakeDirectory) SetOnline(_ context.Context, id types.ID, online bool) error {
	kind := "offline"
	if online {
		kind = "online"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dirEvent{kind: kind, driver: id})
	return nil
}

func (d *fakeDirectory) snapshot() []dirEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dirEvent(nil), d.events...)
}

func (d *fakeDirectory) waitUpsert(t *testing.T) Fix {
	t.Helper()
	select {
	case f := <-d.upserts:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for upsert")
		return Fix{}
	}
}

type chanSource chan Fix

func (c chanSource) Fixes() <-chan Fix { return c }

func TestStopImmediatelyAfterStart_MarksOffline(t *testing.T) {
	dir := newFakeDirectory()
	tr := NewTracker("d1", make(chanSource), dir, DefaultConfig())

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	events := dir.snapshot()
	if len(events) != 1 || events[0].kind != "offline" || events[0].driver != "d1" {
		t.Fatalf("expected a single offline event, got %+v", events)
	}
}

func TestStopWithoutStart(t *testing.T) {
	dir := newFakeDirectory()
	tr := NewTracker("d1", make(chanSource), dir, DefaultConfig())
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if events := dir.snapshot(); len(events) != 1 || events[0].kind != "offline" {
		t.Fatalf("expected offline event, got %+v", events)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	dir := newFakeDirectory()
	tr := NewTracker("d1", make(chanSource), dir, DefaultConfig())

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start: expected ErrAlreadyStarted, got %v", err)
	}
	_ = tr.Stop()
	_ = tr.Stop()
	if err := tr.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("start after stop: expected ErrStopped, got %v", err)
	}

	offline := 0
	for _, e := range dir.snapshot() {
		if e.kind == "offline" {
			offline++
		}
	}
	if offline != 1 {
		t.Errorf("expected stop to mark offline once, got %d", offline)
	}
}

func TestStart_RequiresDriverID(t *testing.T) {
	tr := NewTracker("", make(chanSource), newFakeDirectory(), DefaultConfig())
	if err := tr.Start(context.Background()); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestThrottle(t *testing.T) {
	origin := types.Point{Lat: 37.7749, Lng: -122.4194}
	oneMeterNorth := types.Point{Lat: origin.Lat + 0.000009, Lng: origin.Lng}
	oneKmNorth := types.Point{Lat: origin.Lat + 0.009, Lng: origin.Lng}
	twoKmNorth := types.Point{Lat: origin.Lat + 0.018, Lng: origin.Lng}

	fixes := []struct {
		fix  Fix
		emit bool
	}{
		{Fix{origin, base}, true},                              // first fix always
		{Fix{oneKmNorth, base.Add(time.Second)}, false},        // too soon
		{Fix{oneMeterNorth, base.Add(6 * time.Second)}, false}, // too close
		{Fix{oneKmNorth, base.Add(7 * time.Second)}, true},     // both thresholds met
		{Fix{twoKmNorth, base.Add(9 * time.Second)}, false},    // far but too soon
		{Fix{twoKmNorth, base.Add(20 * time.Second)}, true},    // sentinel
	}

	dir := newFakeDirectory()
	src := make(chanSource)
	tr := NewTracker("d1", src, dir, DefaultConfig())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var want []Fix
	for _, f := range fixes {
		src <- f.fix
		if f.emit {
			want = append(want, f.fix)
		}
	}
	for range want {
		dir.waitUpsert(t)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var got []Fix
	events := dir.snapshot()
	for _, e := range events {
		if e.kind == "upsert" {
			got = append(got, e.fix)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d emitted fixes, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("emitted fix %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if events[len(events)-1].kind != "offline" {
		t.Errorf("offline must be the last effect, got %+v", events[len(events)-1])
	}
}

func TestThrottle_ZeroConfigEmitsEverything(t *testing.T) {
	dir := newFakeDirectory()
	src := make(chanSource)
	tr := NewTracker("d1", src, dir, Config{})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := types.Point{Lat: 1, Lng: 1}
	for i := 0; i < 5; i++ {
		src <- Fix{Position: p, At: base.Add(time.Duration(i) * time.Millisecond)}
	}
	for i := 0; i < 5; i++ {
		dir.waitUpsert(t)
	}
	_ = tr.Stop()
}

func TestNoEmissionAfterStop(t *testing.T) {
	dir := newFakeDirectory()
	feed := NewFeed(4)
	tr := NewTracker("d1", feed, dir, Config{})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := feed.Push(Fix{Position: types.Point{Lat: 1, Lng: 1}, At: base}); err != nil {
		t.Fatalf("push: %v", err)
	}
	dir.waitUpsert(t)
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	before := len(dir.snapshot())

	for i := 1; i <= 3; i++ {
		_, _ = feed.Push(Fix{Position: types.Point{Lat: 1, Lng: 1}, At: base.Add(time.Duration(i) * time.Minute)})
	}
	time.Sleep(20 * time.Millisecond)

	events := dir.snapshot()
	if len(events) != before {
		t.Fatalf("events after stop: %+v", events[before:])
	}
	if events[len(events)-1].kind != "offline" {
		t.Errorf("expected offline last, got %+v", events[len(events)-1])
	}
}

func TestSourceClosedEndsProducer(t *testing.T) {
	dir := newFakeDirectory()
	src := make(chanSource)
	tr := NewTracker("d1", src, dir, Config{})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	close(src)

	done := make(chan struct{})
	go func() {
		_ = tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after source closed")
	}
}

// TestStopUnderLoad keeps pushing while stopping; the real directory must end
// with the driver offline.
func TestStopUnderLoad(t *testing.T) {
	for round := 0; round < 20; round++ {
		dir := driver.NewDirectory()
		feed := NewFeed(8)
		tr := NewTracker("d1", feed, dir, Config{})
		if err := tr.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}

		stopPush := make(chan struct{})
		pushed := make(chan struct{})
		go func() {
			defer close(pushed)
			for i := 0; ; i++ {
				select {
				case <-stopPush:
					return
				default:
				}
				_, _ = feed.Push(Fix{Position: types.Point{Lat: 10, Lng: 10}, At: base.Add(time.Duration(i) * time.Millisecond)})
			}
		}()

		time.Sleep(time.Millisecond)
		if err := tr.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if dir.IsOnline("d1") {
			t.Fatalf("round %d: driver online after stop", round)
		}
		close(stopPush)
		<-pushed
		if dir.IsOnline("d1") {
			t.Fatalf("round %d: driver came back online after stop", round)
		}
	}
}
