package process

import (
	"errors"
	"testing"
)

func TestNewTaskIsPending(t *testing.T) {
	task := NewTask(TaskProbe, "img-1")

	if task.Kind != TaskProbe || task.ImageID != "img-1" {
		t.Fatalf("unexpected task identity: %+v", task)
	}
	if task.Status != TaskStatusPending || task.Done() {
		t.Fatalf("new task should be pending, got %v", task.Status)
	}
	if task.Duration() != 0 {
		t.Fatalf("pending task should have no duration, got %v", task.Duration())
	}
}

func TestMarkFailedSetsStatusAndError(t *testing.T) {
	task := NewTask(TaskDownload, "img-2")
	MarkRunning(&task)
	MarkFailed(&task, errors.New("boom"))

	if task.Status != TaskStatusFailed || !task.Done() {
		t.Fatalf("task status not failed: %v", task.Status)
	}
	if task.Error != "boom" {
		t.Fatalf("task error = %q", task.Error)
	}
	if task.Duration() < 0 {
		t.Fatalf("negative duration %v", task.Duration())
	}
}

func TestMarkFailedDoesNotOverwriteErrorWhenNil(t *testing.T) {
	task := NewTask(TaskProbe, "img-3")
	MarkFailed(&task, nil)

	if task.Status != TaskStatusFailed {
		t.Fatalf("task status not failed: %v", task.Status)
	}
	if task.Error != "" {
		t.Fatalf("expected empty error string, got %q", task.Error)
	}
}

func TestMarkCanceledIsTerminal(t *testing.T) {
	task := NewTask(TaskProbe, "img-4")
	MarkRunning(&task)
	MarkCanceled(&task)

	if !task.Done() || task.Status != TaskStatusCanceled {
		t.Fatalf("unexpected status %v", task.Status)
	}
}
