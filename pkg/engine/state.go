package engine

import "fmt"

// State represents the acquisition state machine. Transitions are strictly
// sequential: Idle -> Starting -> Acquiring -> Stopping -> Idle, with the
// one exception that a failed start rolls Starting straight back to Idle.
type State string

const (
	// StateIdle means no acquisition exists. Parameter writes that touch
	// the device are only legal here.
	StateIdle State = "idle"
	// StateStarting means start() is arming the device. No producer
	// thread exists yet.
	StateStarting State = "starting"
	// StateAcquiring means the producer thread owns the device.
	StateAcquiring State = "acquiring"
	// StateStopping means a stop is draining the producer thread.
	StateStopping State = "stopping"
)

// Update moves s to next if the transition is legal and f succeeds. On
// guard or f failure s stays unchanged.
func (s *State) Update(next State, f func() error) error {
	guards := map[State]func() error{
		StateIdle:      s.toIdle,
		StateStarting:  s.toStarting,
		StateAcquiring: s.toAcquiring,
		StateStopping:  s.toStopping,
	}

	if err := guards[next](); err != nil {
		return err
	}

	err := f()
	if err == nil {
		*s = next
	}
	return err
}

func (s *State) toStarting() error {
	if *s != StateIdle {
		return fmt.Errorf("invalid state: cannot start while %s", *s)
	}
	return nil
}

func (s *State) toAcquiring() error {
	if *s != StateStarting {
		return fmt.Errorf("invalid state: cannot begin acquiring while %s", *s)
	}
	return nil
}

func (s *State) toStopping() error {
	if *s != StateAcquiring {
		return fmt.Errorf("invalid state: cannot stop while %s", *s)
	}
	return nil
}

// Idle is reachable from Stopping (normal) and Starting (rollback).
func (s *State) toIdle() error {
	if *s == StateAcquiring {
		return fmt.Errorf("invalid state: acquiring must pass through stopping")
	}
	return nil
}
