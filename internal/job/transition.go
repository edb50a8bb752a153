package job

// EventKind names what happened to a job.
type EventKind int

const (
	EventPrepare EventKind = iota + 1
	EventPrepared
	EventStart
	EventProgress
	EventAbort
	EventExported
	EventFail
)

// Event is the input of Transition. Progress is used by EventProgress (1.0 means the
// stage finished), Err by EventFail.
type Event struct {
	Kind     EventKind
	Progress float64
	Err      error
}

// Effect is a side effect the caller must apply after a successful transition.
type Effect int

const (
	EffectNotify Effect = iota + 1
	EffectStampStart
	EffectStampEnd
	EffectRequestAbort
)

// Transition is the job state machine. It never mutates anything; the Job applies the
// returned status and effects under its lock. A non-nil error leaves the status as is.
func Transition(from Status, ev Event) (Status, []Effect, error) {
	switch ev.Kind {
	case EventPrepare:
		if from.State != StatePending {
			return from, nil, &StateError{Op: "prepare", Previous: from, Err: ErrAlreadyPrepared}
		}
		return Status{State: StatePreparing}, []Effect{EffectNotify}, nil

	case EventPrepared:
		if from.State != StatePreparing {
			return from, nil, &StateError{Op: "prepared", Previous: from, Err: ErrTerminal}
		}
		return Status{State: StateReady}, []Effect{EffectNotify}, nil

	case EventStart:
		switch from.State {
		case StateReady:
			return Ongoing(0), []Effect{EffectStampStart, EffectNotify}, nil
		case StatePending:
			return from, nil, &StateError{Op: "start", Previous: from, Err: ErrNotPrepared}
		case StatePreparing:
			return from, nil, &StateError{Op: "start", Previous: from, Err: ErrStillPreparing}
		default:
			return from, nil, &StateError{Op: "start", Previous: from, Err: ErrAlreadyStarted}
		}

	case EventProgress:
		switch from.State {
		case StateOngoing, StateAborting:
			if ev.Progress >= 1 {
				return Status{State: StateCompleted}, []Effect{EffectStampEnd, EffectNotify}, nil
			}
			if from.State == StateAborting {
				// Keep showing the abort until the stage observes it.
				return from, nil, nil
			}
			p := ev.Progress
			if p < from.Progress {
				p = from.Progress
			}
			if p < 0 {
				p = 0
			}
			return Ongoing(p), []Effect{EffectNotify}, nil
		default:
			return from, nil, &StateError{Op: "progress", Previous: from, Err: ErrNotOngoing}
		}

	case EventAbort:
		if from.State != StateOngoing {
			return from, nil, &StateError{Op: "abort", Previous: from, Err: ErrNotOngoing}
		}
		return Status{State: StateAborting}, []Effect{EffectRequestAbort, EffectNotify}, nil

	case EventExported:
		if from.State != StateCompleted {
			return from, nil, &StateError{Op: "export", Previous: from, Err: ErrCantExport}
		}
		return Status{State: StateExported}, []Effect{EffectNotify}, nil

	case EventFail:
		switch from.State {
		case StateExported, StateFailed:
			return from, nil, &StateError{Op: "fail", Previous: from, Err: ErrTerminal}
		case StateCompleted:
			// Export failure: already ended, so no second end stamp.
			return Failed(ev.Err), []Effect{EffectNotify}, nil
		default:
			return Failed(ev.Err), []Effect{EffectStampEnd, EffectNotify}, nil
		}
	}
	return from, nil, &StateError{Op: "transition", Previous: from, Err: ErrTerminal}
}

func hasEffect(effects []Effect, e Effect) bool {
	for _, x := range effects {
		if x == e {
			return true
		}
	}
	return false
}
