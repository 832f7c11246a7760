package models

// TaskState is the lifecycle state reported by an asynchronous external job.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// TaskStatus is one status report of an external job. Artifact is set on
// success, Reason on failure.
type TaskStatus struct {
	State    TaskState      `json:"state"`
	Artifact map[string]any `json:"artifact,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}
