// README: Ride aggregate, status definitions, and the transition table.
package ride

import (
	"time"

	"ridecore/internal/modules/pricing"
	"ridecore/internal/types"
)

type Status string

const (
	StatusNone       Status = ""
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// DefaultCancellationReason is stored when a cancel carries no reason.
const DefaultCancellationReason = "No reason provided"

type Ride struct {
	ID                types.ID          `json:"id"`
	RiderID           types.ID          `json:"rider_id"`
	DriverID          *types.ID         `json:"driver_id,omitempty"`
	PreferredDriverID *types.ID         `json:"preferred_driver_id,omitempty"`
	Pickup            types.Point       `json:"pickup"`
	Destination       types.Point       `json:"destination"`
	Status            Status            `json:"status"`
	Version           int               `json:"version"`
	Fare              pricing.Breakdown `json:"fare"`
	DistanceMeters    float64           `json:"distance_meters"`
	DurationSeconds   float64           `json:"duration_seconds"`
	ScheduledFor      *time.Time        `json:"scheduled_for,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CancelledBy        *types.Role `json:"cancelled_by,omitempty"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with stored state.
func (r Ride) Clone() Ride {
	r.DriverID = cloneID(r.DriverID)
	r.PreferredDriverID = cloneID(r.PreferredDriverID)
	r.ScheduledFor = cloneTime(r.ScheduledFor)
	r.AcceptedAt = cloneTime(r.AcceptedAt)
	r.StartedAt = cloneTime(r.StartedAt)
	r.CompletedAt = cloneTime(r.CompletedAt)
	r.CancelledAt = cloneTime(r.CancelledAt)
	if r.CancelledBy != nil {
		v := *r.CancelledBy
		r.CancelledBy = &v
	}
	if r.CancellationReason != nil {
		v := *r.CancellationReason
		r.CancellationReason = &v
	}
	return r
}

// IsBoundDriver reports whether id is the driver bound at acceptance.
func (r Ride) IsBoundDriver(id types.ID) bool {
	return r.DriverID != nil && *r.DriverID == id
}

// Estimate is the routing collaborator's answer for pickup -> destination.
type Estimate struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:       {StatusPending},
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func cloneID(v *types.ID) *types.ID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
