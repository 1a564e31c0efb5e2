package challenge

// State is the lifecycle position of a Poller.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StatePolling
	StateApproved
	StateDenied
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StatePolling:
		return "polling"
	case StateApproved:
		return "approved"
	case StateDenied:
		return "denied"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a challenge.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateDenied, StateTimedOut, StateFailed:
		return true
	}
	return false
}

// Active reports whether a challenge is being opened or polled.
func (s State) Active() bool {
	return s == StateRequesting || s == StatePolling
}

type event int

const (
	evOpen event = iota
	evOpened
	evOpenFailed
	evApproved
	evDenied
	evExpired
	evFailed
	evCancel
	evReset
)

func (e event) String() string {
	return [...]string{
		"open", "opened", "open_failed", "approved", "denied",
		"expired", "failed", "cancel", "reset",
	}[e]
}

// transition returns the state reached by applying e to s. ok is false when
// e has no effect in s; terminal states only accept evReset.
func transition(s State, e event) (next State, ok bool) {
	switch s {
	case StateIdle:
		if e == evOpen {
			return StateRequesting, true
		}
	case StateRequesting:
		switch e {
		case evOpened:
			return StatePolling, true
		case evOpenFailed, evCancel:
			return StateIdle, true
		}
	case StatePolling:
		switch e {
		case evApproved:
			return StateApproved, true
		case evDenied:
			return StateDenied, true
		case evExpired:
			return StateTimedOut, true
		case evFailed:
			return StateFailed, true
		case evCancel:
			return StateIdle, true
		}
	case StateApproved, StateDenied, StateTimedOut, StateFailed:
		if e == evReset {
			return StateIdle, true
		}
	}
	return s, false
}
