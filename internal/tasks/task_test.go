package tasks

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusCompleted, false},
		{Status("bogus"), StatusRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("done").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestTaskLifecycle(t *testing.T) {
	created := time.Now()
	task := &Task{ID: "t1", Status: StatusQueued, CreatedAt: created}

	started := created.Add(time.Second)
	if err := task.Start(started); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", task.StartedAt, started)
	}

	cost := 0.25
	done := started.Add(3 * time.Second)
	if err := task.Complete(Result{Data: []byte(`{"ok":true}`), Valid: true}, 3*time.Second, &cost, done); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", task.Status)
	}
	if task.Duration == nil || *task.Duration != 3000 {
		t.Errorf("Duration = %v, want 3000", task.Duration)
	}
	if task.Cost == nil || *task.Cost != 0.25 {
		t.Errorf("Cost = %v, want 0.25", task.Cost)
	}
	if task.Error != nil {
		t.Errorf("Error = %+v, want nil", task.Error)
	}

	err := task.Fail(Error{Code: "X", Message: "late"}, 0, done)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fail after complete: got %v, want ErrInvalidTransition", err)
	}
	if task.Status != StatusCompleted || task.Error != nil {
		t.Error("rejected transition mutated the task")
	}
}

func TestTaskCancelDuration(t *testing.T) {
	now := time.Now()

	queued := &Task{ID: "q", Status: StatusQueued, CreatedAt: now}
	if err := queued.Cancel(now.Add(time.Second)); err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	if queued.Duration == nil || *queued.Duration != 0 {
		t.Errorf("queued cancel duration = %v, want 0", queued.Duration)
	}

	running := &Task{ID: "r", Status: StatusQueued, CreatedAt: now}
	_ = running.Start(now)
	if err := running.Cancel(now.Add(1500 * time.Millisecond)); err != nil {
		t.Fatalf("Cancel running: %v", err)
	}
	if *running.Duration != 1500 {
		t.Errorf("running cancel duration = %d, want 1500", *running.Duration)
	}
	if running.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	if err := running.Cancel(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second cancel: got %v, want ErrInvalidTransition", err)
	}
}
