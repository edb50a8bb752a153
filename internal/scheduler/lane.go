package scheduler

import (
	"fmt"
	"strings"
)

// Lane is a priority class. Each lane runs its jobs on its own supervisor so a slow
// background job never sits in front of interactive work; the running count is shared.
type Lane int

const (
	LaneInteractive Lane = iota
	LaneNormal
	LaneBackground

	laneCount = 3
)

func (l Lane) String() string {
	switch l {
	case LaneInteractive:
		return "interactive"
	case LaneNormal:
		return "normal"
	case LaneBackground:
		return "background"
	default:
		return fmt.Sprintf("lane(%d)", int(l))
	}
}

func (l Lane) valid() bool { return l >= 0 && l < laneCount }

// ParseLane accepts the names printed by Lane.String. Empty means interactive.
func ParseLane(s string) (Lane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "interactive":
		return LaneInteractive, nil
	case "normal":
		return LaneNormal, nil
	case "background":
		return LaneBackground, nil
	default:
		return 0, fmt.Errorf("unknown lane %q", s)
	}
}
