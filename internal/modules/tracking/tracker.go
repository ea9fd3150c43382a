// README: Tracker runs one cancellable producer per driver and feeds the directory.
package tracking

import (
	"context"
	"fmt"
	"log"
	"sync"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

type Tracker struct {
	driverID types.ID
	source   Source
	dir      Directory
	cfg      Config

	mu       sync.Mutex
	started  bool
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}

	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

func NewTracker(driverID types.ID, source Source, dir Directory, cfg Config) *Tracker {
	return &Tracker{
		driverID: driverID,
		source:   source,
		dir:      dir,
		cfg:      cfg,
		stopped:  make(chan struct{}),
	}
}

func (t *Tracker) DriverID() types.ID { return t.driverID }

// Start launches the producer goroutine. It runs until ctx is cancelled, the
// source closes, or Stop is called.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopping {
		return ErrStopped
	}
	if t.started {
		return ErrAlreadyStarted
	}
	if t.driverID == "" {
		return fmt.Errorf("%w: missing driver id", types.ErrInvalidInput)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.started = true
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, t.done)
	return nil
}

// Stop cancels the producer, waits for it to exit and then marks the driver
// offline. No fix is emitted after Stop returns. Later calls wait for the
// first one and return its result.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopping = true
		cancel, done := t.cancel, t.done
		t.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
		t.stopErr = t.dir.SetOnline(context.Background(), t.driverID, false)
		close(t.stopped)
	})
	<-t.stopped
	return t.stopErr
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	fixes := t.source.Fixes()
	var last *Fix
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fixes:
			if !ok {
				return
			}
			// a fix and a cancel can be ready together; cancellation wins
			if ctx.Err() != nil {
				return
			}
			if !t.shouldEmit(last, f) {
				continue
			}
			accepted, err := t.dir.UpsertPosition(ctx, t.driverID, f.Position, f.At)
			if err != nil {
				log.Printf("[tracking] driver %s: dropping fix: %v", t.driverID, err)
				continue
			}
			if accepted {
				emitted := f
				last = &emitted
			}
		}
	}
}

func (t *Tracker) shouldEmit(last *Fix, f Fix) bool {
	if last == nil {
		return true
	}
	if t.cfg.MinInterval > 0 && f.At.Sub(last.At) < t.cfg.MinInterval {
		return false
	}
	if t.cfg.MinDisplacementMeters > 0 && geo.DistanceMeters(last.Position, f.Position) < t.cfg.MinDisplacementMeters {
		return false
	}
	return true
}
