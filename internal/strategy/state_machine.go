package strategy

import "sync"

// StateMachine tracks whether a trade attempt is in flight for one key.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current State, event Event) State {
	switch current {
	case StateIdle:
		if event == EventLock {
			return StateTrading
		}
	case StateTrading:
		if event == EventRelease {
			return StateIdle
		}
	}
	return current
}
