package model

import "fmt"

type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

var allowedTransitions = map[Status]map[Status]bool{
	"": {
		StatusDiscovered: true,
	},
	StatusDiscovered: {
		StatusQueued:  true,
		StatusSkipped: true,
	},
	StatusQueued: {
		StatusQueued:     true,
		StatusInProgress: true,
		StatusFailed:     true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {
		StatusCompleted: true,
		StatusSkipped:   true,
		StatusQueued:    true, // local file missing, needs re-download
	},
	StatusFailed: {
		StatusFailed: true,
		StatusQueued: true,
	},
	StatusSkipped: {
		StatusSkipped: true,
		StatusQueued:  true, // local file missing, needs re-download
	},
}

func IsKnownStatus(status Status) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether the item needs no further transfer work.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusSkipped
}

func TransitionItem(item *Item, to Status, reason string) error {
	from := item.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid item status transition: %q -> %q (item_id=%s dest=%s)", from, to, item.ID, item.DestPath)
	}
	item.Status = to
	item.Reason = reason
	return nil
}
