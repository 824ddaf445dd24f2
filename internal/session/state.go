package session

import (
	"context"

	"github.com/saviobatista/flight-registrar/internal/types"
)

// State is the lifecycle stage of the current flight session
type State int

const (
	StateNone State = iota
	StatePending
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// StateOf derives the lifecycle stage of a session
func StateOf(s *types.FlightSession) State {
	switch {
	case s == nil:
		return StateNone
	case !s.Active:
		return StateEnded
	case !s.HasID():
		return StatePending
	default:
		return StateActive
	}
}

// Snapshot is a point-in-time copy of the controller state
type Snapshot struct {
	State     State
	Session   *types.FlightSession
	Pending   *types.Position
	Aircraft  *types.Aircraft
	Creating  bool
	Ending    bool
	LastError error
}

// Snapshot returns a copy of the controller state once all previously
// posted events have been handled.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !c.post(func() { reply <- c.snapshot() }) {
		return Snapshot{}, ErrStopped
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-c.done:
		return Snapshot{}, ErrStopped
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		State:     StateOf(c.session),
		Creating:  c.creating,
		Ending:    c.ending,
		LastError: c.lastErr,
	}
	if c.session != nil {
		session := *c.session
		s.Session = &session
	}
	if c.pending != nil {
		pending := *c.pending
		s.Pending = &pending
	}
	if c.aircraft != nil {
		aircraft := *c.aircraft
		s.Aircraft = &aircraft
	}
	return s
}
