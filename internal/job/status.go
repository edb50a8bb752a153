package job

import (
	"fmt"
	"time"
)

// State is the discriminant of Status.
type State int

const (
	StatePending State = iota
	StatePreparing
	StateReady
	StateOngoing
	StateAborting
	StateCompleted
	StateExported
	StateFailed
)

var stateNames = [...]string{
	StatePending:   "pending",
	StatePreparing: "preparing",
	StateReady:     "ready",
	StateOngoing:   "ongoing",
	StateAborting:  "aborting",
	StateCompleted: "completed",
	StateExported:  "exported",
	StateFailed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Status is a job's lifecycle position. Progress is meaningful only for StateOngoing
// and Err only for StateFailed.
type Status struct {
	State    State
	Progress float64
	Err      error
}

func Pending() Status             { return Status{State: StatePending} }
func Ongoing(p float64) Status    { return Status{State: StateOngoing, Progress: p} }
func Failed(err error) Status     { return Status{State: StateFailed, Err: err} }
func (s Status) Is(st State) bool { return s.State == st }

// Terminal reports whether the job has ended. Completed counts as ended even though
// it still moves on to exported or failed once the export settles.
func (s Status) Terminal() bool {
	switch s.State {
	case StateCompleted, StateExported, StateFailed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s.State {
	case StateOngoing:
		return fmt.Sprintf("ongoing(%.4f)", s.Progress)
	case StateFailed:
		if s.Err != nil {
			return "failed(" + s.Err.Error() + ")"
		}
	}
	return s.State.String()
}

// Label is the short human text shown next to a job.
func (s Status) Label() string {
	switch s.State {
	case StatePending:
		return "Not Ready"
	case StatePreparing:
		return "Readying"
	case StateReady:
		return "Awaited"
	case StateOngoing:
		v := s.Progress * 100
		if v < 100 {
			return fmt.Sprintf("Converting: %05.2f %%", v)
		}
		return fmt.Sprintf("Converting: %.0f %%", v)
	case StateAborting:
		return "Aborting"
	case StateCompleted:
		return "Completed"
	case StateExported:
		return "Exported"
	case StateFailed:
		return "Failed"
	default:
		return s.State.String()
	}
}

// FormatDuration renders d the way job summaries show elapsed time:
// "1 H 2 min", "3 min 4 sec" or "5 sec 6 ms". Negative durations get a "- " prefix.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "- " + FormatDuration(-d)
	}
	hours := int(d / time.Hour)
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60
	millis := int(d/time.Millisecond) % 1000
	switch {
	case hours > 0:
		return fmt.Sprintf("%d H %d min", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	default:
		return fmt.Sprintf("%d sec %d ms", seconds, millis)
	}
}
