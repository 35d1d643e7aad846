package domain

// Status is the lifecycle state of a submitted task
type Status string

// Task status constants
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// IsTerminal reports whether no further transition is allowed from s
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is one of the known statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a task may move from one status to another.
// queued -> processing -> {completed | failed | timeout}
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to.IsTerminal()
	default:
		return false
	}
}

// ItemStatus is the outcome of a single content key within a task
type ItemStatus string

// Item status constants
const (
	ItemPublished ItemStatus = "published"
	ItemSkipped   ItemStatus = "skipped"
	ItemFailed    ItemStatus = "failed"
	ItemTimeout   ItemStatus = "timeout"
)

// Succeeded reports whether the item's effect is known to exist on the platform
func (s ItemStatus) Succeeded() bool {
	return s == ItemPublished || s == ItemSkipped
}

// Messages used for skipped work
const (
	MessageSkipped        = "skipped: already processed"
	MessageServiceStopped = "service stopped before processing"
)
