package events

import (
	"context"
	"errors"

	"ridecore/internal/modules/ride"
)

// Fanout delivers each event to every publisher, continuing past failures.
type Fanout []ride.Publisher

func (f Fanout) Publish(ctx context.Context, e ride.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ride.Event) error { return nil }
