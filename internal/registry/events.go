package registry

import "fmt"

// Action is something a user can ask of one entry.
type Action int

const (
	ActionAbort Action = iota + 1
	ActionRestart
	ActionDelete
	ActionStatusTap
)

func (a Action) String() string {
	switch a {
	case ActionAbort:
		return "abort"
	case ActionRestart:
		return "restart"
	case ActionDelete:
		return "delete"
	case ActionStatusTap:
		return "status_tap"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ChangeKind classifies list-level changes.
type ChangeKind int

const (
	ItemsAdded ChangeKind = iota + 1
	ItemsRemoved
	Reload
	ReloadAll
	ActionRequested
	Error
)

func (k ChangeKind) String() string {
	switch k {
	case ItemsAdded:
		return "items_added"
	case ItemsRemoved:
		return "items_removed"
	case Reload:
		return "reload"
	case ReloadAll:
		return "reload_all"
	case ActionRequested:
		return "action_requested"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}

// Change is delivered to OnChange listeners. Indexes is set for ItemsAdded,
// ItemsRemoved and Reload; OldID/NewID for Reload; ID for ActionRequested and Error.
type Change struct {
	Kind    ChangeKind
	Indexes []int
	ID      string
	OldID   string
	NewID   string
	Action  Action
	Err     error
}

// UpdateKind classifies what a per-job subscriber is told.
type UpdateKind int

const (
	// Refresh means the job's status may have changed; re-read it.
	Refresh UpdateKind = iota + 1
	// Rebind means the entry now holds a new job; NewID replaces the subscribed id.
	Rebind
	// Invalidated means the entry is gone; the subscription is dropped.
	Invalidated
	// Failed carries an operation error scoped to the job.
	Failed
)

func (k UpdateKind) String() string {
	switch k {
	case Refresh:
		return "refresh"
	case Rebind:
		return "reload"
	case Invalidated:
		return "invalidated"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("update(%d)", int(k))
	}
}

type Update struct {
	Kind  UpdateKind
	NewID string
	Err   error
}
