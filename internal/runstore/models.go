package runstore

import "time"

// Status represents the lifecycle of a run.
type Status string

const (
	StatusPreflight  Status = "preflight"
	StatusArchiving  Status = "archiving"
	StatusCapturing  Status = "capturing"
	StatusProcessing Status = "processing"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// AbortReason is the error message recorded when a run is stopped on request.
const AbortReason = "Abort requested by operator"

var allStatuses = []Status{
	StatusPreflight,
	StatusArchiving,
	StatusCapturing,
	StatusProcessing,
	StatusPublishing,
	StatusCompleted,
	StatusFailed,
	StatusAborted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	_, ok := statusSet[s]
	return ok
}

// Terminal reports whether the run can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// forwardTransitions lists the allowed non-terminal progressions. Capturing
// advances directly to publishing in capture-only mode.
var forwardTransitions = map[Status][]Status{
	StatusPreflight:  {StatusArchiving},
	StatusArchiving:  {StatusCapturing},
	StatusCapturing:  {StatusProcessing, StatusPublishing},
	StatusProcessing: {StatusPublishing},
	StatusPublishing: {StatusCompleted},
}

func transitionAllowed(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusAborted {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one settling test persisted in SQLite.
type Run struct {
	ID           string
	Status       Status
	Mode         string
	StartedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
	VideoPath    string
	ResultJSON   string
	ErrorMessage string
	WarningCount int
}

// Event is a timestamped warning or state note attached to a run.
type Event struct {
	ID        int64
	RunID     string
	Kind      string
	Message   string
	CreatedAt time.Time
}

// EventWarning marks non-fatal alerts surfaced to the operator.
const EventWarning = "warning"

// Summary aggregates run counts per key lifecycle states.
type Summary struct {
	Total     int
	Active    int
	Completed int
	Failed    int
	Aborted   int
}
