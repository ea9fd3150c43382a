// README: Location tracking model: fixes, sources and throttling config.
package tracking

import (
	"context"
	"errors"
	"time"

	"ridecore/internal/types"
)

var (
	ErrAlreadyStarted = errors.New("tracker already started")
	ErrStopped        = errors.New("tracker stopped")
	ErrFeedClosed     = errors.New("feed closed")
)

// Fix is one position observation from a device.
type Fix struct {
	Position types.Point `json:"position"`
	At       time.Time   `json:"at"`
}

// Config throttles emission. A fix is forwarded only when both thresholds
// are met relative to the last emitted fix; a zero value disables that check.
type Config struct {
	MinInterval           time.Duration
	MinDisplacementMeters float64
}

func DefaultConfig() Config {
	return Config{
		MinInterval:           5 * time.Second,
		MinDisplacementMeters: 10,
	}
}

// Source produces fixes until its channel is closed.
type Source interface {
	Fixes() <-chan Fix
}

// Directory is the subset of the driver directory a tracker writes to.
type Directory interface {
	UpsertPosition(ctx context.Context, id types.ID, p types.Point, at time.Time) (bool, error)
	SetOnline(ctx context.Context, id types.ID, online bool) error
}
