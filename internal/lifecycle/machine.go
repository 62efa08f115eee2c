package lifecycle

import (
	"errors"
	"fmt"
)

// State is the local generation state of one stage in one session.
type State string

const (
	StateIdle        State = "idle"
	StateSubmitting  State = "submitting"
	StateAwaitingJob State = "awaiting_job"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateIdle:        {StateSubmitting},
	StateSubmitting:  {StateAwaitingJob, StateSucceeded, StateIdle},
	StateAwaitingJob: {StateSucceeded, StateFailed},
	StateSucceeded:   {StateSubmitting},
	StateFailed:      {StateSubmitting},
}

// InFlight reports whether a generation has been requested and not yet settled.
func (s State) InFlight() bool {
	return s == StateSubmitting || s == StateAwaitingJob
}

type machine struct {
	state State
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", m.state, next, ErrIllegalTransition)
}
