package ride

import (
	"errors"
	"fmt"

	"ridecore/internal/types"
)

// ErrVersionConflict is returned by a Store when the stored version no longer
// matches the expected one. The service re-reads and re-evaluates on it.
var ErrVersionConflict = errors.New("ride version conflict")

// TransitionError reports a command rejected by the state machine.
type TransitionError struct {
	Action    string
	Current   Status
	Attempted Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ride cannot be %s, current status: %s", e.Action, e.Current)
}

func (e *TransitionError) Unwrap() error {
	return types.ErrInvalidTransition
}
