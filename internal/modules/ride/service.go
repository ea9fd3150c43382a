// README: Ride service implements the lifecycle state machine on top of an injected store.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"ridecore/internal/geo"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/types"
)

// maxAttempts bounds re-evaluation after version conflicts. A ride has at most
// four transitions, so a caller can lose at most a handful of races.
const maxAttempts = 8

type Deps struct {
	Router  Router
	Drivers DriverLookup
	Events  Publisher
	Clock   func() time.Time
}

type Service struct {
	store   Store
	pricing Pricer
	router  Router
	drivers DriverLookup
	events  Publisher
	now     func() time.Time
}

func NewService(store Store, pricing Pricer, deps Deps) *Service {
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:   store,
		pricing: pricing,
		router:  deps.Router,
		drivers: deps.Drivers,
		events:  deps.Events,
		now:     now,
	}
}

type RequestCommand struct {
	Actor             types.Actor
	Pickup            types.Point
	Destination       types.Point
	ScheduledFor      *time.Time
	PreferredDriverID *types.ID
	// Estimate overrides the router when the caller already has one.
	Estimate *Estimate
	Surge    *float64
}

type AcceptCommand struct {
	RideID types.ID
	Actor  types.Actor
}

type StartCommand struct {
	RideID types.ID
	Actor  types.Actor
}

type CompleteCommand struct {
	RideID types.ID
	Actor  types.Actor
}

type CancelCommand struct {
	RideID types.ID
	Actor  types.Actor
	Reason string
}

func (s *Service) Request(ctx context.Context, cmd RequestCommand) (Ride, error) {
	if cmd.Actor.ID == "" || cmd.Actor.Role != types.RoleRider {
		return Ride{}, fmt.Errorf("%w: only an authenticated rider can request a ride", types.ErrUnauthorized)
	}
	if err := geo.Validate(cmd.Pickup); err != nil {
		return Ride{}, fmt.Errorf("pickup: %w", err)
	}
	if err := geo.Validate(cmd.Destination); err != nil {
		return Ride{}, fmt.Errorf("destination: %w", err)
	}
	if cmd.PreferredDriverID != nil && *cmd.PreferredDriverID == "" {
		cmd.PreferredDriverID = nil
	}

	est, err := s.estimate(ctx, cmd)
	if err != nil {
		return Ride{}, err
	}
	fare, err := s.pricing.Quote(ctx, est.DistanceMeters, est.DurationSeconds, cmd.Surge)
	if err != nil {
		return Ride{}, err
	}

	now := s.now()
	r := Ride{
		ID:                types.ID(uuid.NewString()),
		RiderID:           cmd.Actor.ID,
		PreferredDriverID: cloneID(cmd.PreferredDriverID),
		Pickup:            cmd.Pickup,
		Destination:       cmd.Destination,
		Status:            StatusPending,
		Version:           1,
		Fare:              fare,
		DistanceMeters:    est.DistanceMeters,
		DurationSeconds:   est.DurationSeconds,
		ScheduledFor:      cloneTime(cmd.ScheduledFor),
		RequestedAt:       now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return Ride{}, err
	}
	s.publish(ctx, Event{RideID: r.ID, From: StatusNone, To: StatusPending, ActorID: cmd.Actor.ID, ActorRole: cmd.Actor.Role, At: now, Ride: r.Clone()})
	return r.Clone(), nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (Ride, error) {
	if err := requireDriver(cmd.Actor); err != nil {
		return Ride{}, err
	}
	return s.transition(ctx, cmd.RideID, cmd.Actor, StatusAccepted, func(r *Ride, now time.Time) error {
		if r.Status != StatusPending {
			return &TransitionError{Action: "accepted", Current: r.Status, Attempted: StatusAccepted}
		}
		if r.PreferredDriverID != nil && *r.PreferredDriverID != cmd.Actor.ID {
			return fmt.Errorf("%w: ride was requested for another driver", types.ErrUnauthorized)
		}
		if s.drivers != nil && !s.drivers.IsOnline(cmd.Actor.ID) {
			return fmt.Errorf("%w: driver %s is not online", types.ErrUnauthorized, cmd.Actor.ID)
		}
		driverID := cmd.Actor.ID
		r.DriverID = &driverID
		r.AcceptedAt = &now
		return nil
	})
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (Ride, error) {
	if err := requireDriver(cmd.Actor); err != nil {
		return Ride{}, err
	}
	return s.transition(ctx, cmd.RideID, cmd.Actor, StatusInProgress, func(r *Ride, now time.Time) error {
		if err := requireBoundDriver(*r, cmd.Actor.ID); err != nil {
			return err
		}
		if r.Status != StatusAccepted {
			return &TransitionError{Action: "started", Current: r.Status, Attempted: StatusInProgress}
		}
		r.StartedAt = &now
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (Ride, error) {
	if err := requireDriver(cmd.Actor); err != nil {
		return Ride{}, err
	}
	return s.transition(ctx, cmd.RideID, cmd.Actor, StatusCompleted, func(r *Ride, now time.Time) error {
		if err := requireBoundDriver(*r, cmd.Actor.ID); err != nil {
			return err
		}
		if r.Status != StatusInProgress {
			return &TransitionError{Action: "completed", Current: r.Status, Attempted: StatusCompleted}
		}
		r.CompletedAt = &now
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (Ride, error) {
	if cmd.Actor.ID == "" {
		return Ride{}, fmt.Errorf("%w: missing caller identity", types.ErrUnauthorized)
	}
	return s.transition(ctx, cmd.RideID, cmd.Actor, StatusCancelled, func(r *Ride, now time.Time) error {
		if !CanTransition(r.Status, StatusCancelled) {
			return &TransitionError{Action: "cancelled", Current: r.Status, Attempted: StatusCancelled}
		}
		var by types.Role
		switch {
		case r.RiderID == cmd.Actor.ID:
			by = types.RoleRider
		case r.IsBoundDriver(cmd.Actor.ID):
			by = types.RoleDriver
		default:
			return fmt.Errorf("%w: only the rider or the assigned driver can cancel this ride", types.ErrUnauthorized)
		}
		reason := cmd.Reason
		if reason == "" {
			reason = DefaultCancellationReason
		}
		r.CancelledBy = &by
		r.CancellationReason = &reason
		r.CancelledAt = &now
		return nil
	})
}

// QuoteCommand asks for a fare without creating a ride.
type QuoteCommand struct {
	Pickup      types.Point
	Destination types.Point
	Estimate    *Estimate
	Surge       *float64
}

// Quote prices a trip the same way Request would.
func (s *Service) Quote(ctx context.Context, cmd QuoteCommand) (Estimate, pricing.Breakdown, error) {
	if err := geo.Validate(cmd.Pickup); err != nil {
		return Estimate{}, pricing.Breakdown{}, fmt.Errorf("pickup: %w", err)
	}
	if err := geo.Validate(cmd.Destination); err != nil {
		return Estimate{}, pricing.Breakdown{}, fmt.Errorf("destination: %w", err)
	}
	est, err := s.estimate(ctx, RequestCommand{Pickup: cmd.Pickup, Destination: cmd.Destination, Estimate: cmd.Estimate})
	if err != nil {
		return Estimate{}, pricing.Breakdown{}, err
	}
	fare, err := s.pricing.Quote(ctx, est.DistanceMeters, est.DurationSeconds, cmd.Surge)
	if err != nil {
		return Estimate{}, pricing.Breakdown{}, err
	}
	return est, fare, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (Ride, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Ride{}, err
	}
	return r.Clone(), nil
}

// History returns the actor's rides, most recently requested first; equal
// request times are ordered by ride id.
func (s *Service) History(ctx context.Context, actorID types.ID, role types.Role) ([]Ride, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: missing actor id", types.ErrInvalidInput)
	}
	var f Filter
	switch role {
	case types.RoleRider:
		f.RiderID = &actorID
	case types.RoleDriver:
		f.DriverID = &actorID
	default:
		return nil, fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, role)
	}

	rides, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Ride, len(rides))
	for i, r := range rides {
		out[i] = r.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// transition commits one state change. The guard runs against the latest
// stored snapshot; if another transition commits between the read and the
// conditional update, the snapshot is re-read and the guard re-evaluated.
// On failure the last observed state is returned unchanged with the error.
func (s *Service) transition(ctx context.Context, id types.ID, actor types.Actor, to Status, apply func(r *Ride, now time.Time) error) (Ride, error) {
	if id == "" {
		return Ride{}, fmt.Errorf("%w: missing ride id", types.ErrInvalidInput)
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return Ride{}, err
		}

		now := s.now()
		next := cur.Clone()
		if err := apply(&next, now); err != nil {
			return cur.Clone(), err
		}
		next.Status = to
		next.Version = cur.Version + 1
		next.UpdatedAt = now

		err = s.store.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return cur.Clone(), err
		}

		s.publish(ctx, Event{RideID: id, From: cur.Status, To: to, ActorID: actor.ID, ActorRole: actor.Role, At: now, Ride: next.Clone()})
		return next.Clone(), nil
	}
	return Ride{}, ErrVersionConflict
}

func (s *Service) estimate(ctx context.Context, cmd RequestCommand) (Estimate, error) {
	if cmd.Estimate != nil {
		return *cmd.Estimate, nil
	}
	if s.router == nil {
		return Estimate{}, fmt.Errorf("%w: route estimate required", types.ErrInvalidInput)
	}
	est, err := s.router.Estimate(ctx, cmd.Pickup, cmd.Destination)
	if err != nil {
		return Estimate{}, fmt.Errorf("route estimate: %w", err)
	}
	return est, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		log.Printf("[ride] publish %s -> %s for ride %s: %v", e.From, e.To, e.RideID, err)
	}
}

func requireDriver(a types.Actor) error {
	if a.ID == "" || a.Role != types.RoleDriver {
		return fmt.Errorf("%w: driver role required", types.ErrUnauthorized)
	}
	return nil
}

// requireBoundDriver rejects any driver other than the one bound at acceptance.
// Rides with no bound driver fall through to the status guard.
func requireBoundDriver(r Ride, id types.ID) error {
	if r.DriverID != nil && *r.DriverID != id {
		return fmt.Errorf("%w: you are not the assigned driver for this ride", types.ErrUnauthorized)
	}
	return nil
}
