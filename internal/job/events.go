package job

// EventKind enumerates the lifecycle events the engine appends to a
// queue's Redis stream.
type EventKind string

const (
	EventAdded           EventKind = "added"
	EventActive          EventKind = "active"
	EventProgress        EventKind = "progress"
	EventCompleted       EventKind = "completed"
	EventFailed          EventKind = "failed"
	EventDelayed         EventKind = "delayed"
	EventStalled         EventKind = "stalled"
	EventRemoved         EventKind = "removed"
	EventPaused          EventKind = "paused"
	EventResumed         EventKind = "resumed"
	EventDrained         EventKind = "drained"
	EventWaiting         EventKind = "waiting"
	EventWaitingChildren EventKind = "waiting-children"
	EventDuplicated      EventKind = "duplicated"
)

// Event is a single entry on a queue's events stream.
type Event struct {
	Event        EventKind `json:"event"`
	JobID        string    `json:"jobId"`
	Ts           int64     `json:"ts"`
	Prev         string    `json:"prev,omitempty"`
	ReturnValue  string    `json:"returnvalue,omitempty"`
	FailedReason string    `json:"failedReason,omitempty"`
	Progress     int       `json:"progress,omitempty"`
}

// Fields converts the event to the map[string]interface{} shape
// go-redis's XAdd expects.
func (e Event) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"event": string(e.Event),
		"jobId": e.JobID,
		"ts":    e.Ts,
	}
	if e.Prev != "" {
		f["prev"] = e.Prev
	}
	if e.ReturnValue != "" {
		f["returnvalue"] = e.ReturnValue
	}
	if e.FailedReason != "" {
		f["failedReason"] = e.FailedReason
	}
	if e.Progress != 0 {
		f["progress"] = e.Progress
	}
	return f
}
