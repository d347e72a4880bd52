// internal/process/adapter.go
package process

import "time"

// TaskStatus represents the lifecycle state of one image's probe or download.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

type TaskKind string

const (
	TaskProbe    TaskKind = "probe"
	TaskDownload TaskKind = "download"
)

// Task records what happened to one image for display and events.
type Task struct {
	ImageID    string
	Kind       TaskKind
	Status     TaskStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func NewTask(kind TaskKind, imageID string) Task {
	return Task{
		ImageID: imageID,
		Kind:    kind,
		Status:  TaskStatusPending,
	}
}

func MarkRunning(t *Task) {
	t.Status = TaskStatusRunning
	t.StartedAt = time.Now()
}

func MarkSucceeded(t *Task) {
	t.Status = TaskStatusSucceeded
	t.FinishedAt = time.Now()
}

func MarkFailed(t *Task, err error) {
	t.Status = TaskStatusFailed
	t.FinishedAt = time.Now()
	if err != nil {
		t.Error = err.Error()
	}
}

func MarkCanceled(t *Task) {
	t.Status = TaskStatusCanceled
	t.FinishedAt = time.Now()
}

// Done reports whether the task reached a terminal state.
func (t Task) Done() bool {
	switch t.Status {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCanceled:
		return true
	default:
		return false
	}
}

func (t Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
