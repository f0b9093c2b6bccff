// Package transition decides what happens to a client's churned timestamp when its
// status changes. It performs no I/O.
package transition

import (
	"fmt"
	"strings"
)

// churned is the terminal status compared case-insensitively.
const churned = "churned"

// Action is the change to apply to the persisted churned timestamp.
type Action int

const (
	None Action = iota
	SetTimestamp
	ClearTimestamp
)

var actionName = map[Action]string{
	None:           "NONE",
	SetTimestamp:   "SET_TIMESTAMP",
	ClearTimestamp: "CLEAR_TIMESTAMP",
}

// String returns the Action name.
func (a Action) String() string {
	return actionName[a]
}

// Transition is the result of comparing an old and new status.
type Transition struct {
	Action  Action
	LogNote string
}

// IsChurned reports whether status is the churned status, ignoring case and
// surrounding whitespace.
func IsChurned(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), churned)
}

// Compute compares the previous and new status of a client. Only entering or leaving
// churned produces an action; the log note is meant to be recorded verbatim.
func Compute(oldStatus, newStatus string) Transition {
	wasChurned, isChurned := IsChurned(oldStatus), IsChurned(newStatus)
	switch {
	case !wasChurned && isChurned:
		return Transition{
			Action:  SetTimestamp,
			LogNote: fmt.Sprintf("status changed %q -> %q: churned timestamp set", oldStatus, newStatus),
		}
	case wasChurned && !isChurned:
		return Transition{
			Action:  ClearTimestamp,
			LogNote: fmt.Sprintf("status changed %q -> %q: churned timestamp cleared", oldStatus, newStatus),
		}
	default:
		return Transition{
			Action:  None,
			LogNote: fmt.Sprintf("status %q -> %q: churned timestamp unchanged", oldStatus, newStatus),
		}
	}
}
