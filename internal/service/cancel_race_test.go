package service

import (
	"context"
	"sync"
	"testing"

	"github.com/dohr-michael/swarm/internal/tasks"
)

// hookStore runs hook once, right after the first update that matches when.
type hookStore struct {
	tasks.Store

	when func(*tasks.Task) bool
	once sync.Once
	hook func(id string)
}

func (s *hookStore) Update(ctx context.Context, id string, fn tasks.UpdateFunc) (*tasks.Task, error) {
	t, err := s.Store.Update(ctx, id, fn)
	if err == nil && s.when(t) {
		s.once.Do(func() { s.hook(id) })
	}
	return t, err
}

func TestCancelBetweenStartAndEnqueue(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	exec := blockUntil(release)

	var h *harness
	store := &hookStore{
		Store: tasks.NewFileStore(t.TempDir()),
		when:  func(task *tasks.Task) bool { return task.Status == tasks.StatusRunning },
	}
	store.hook = func(id string) {
		if _, err := h.svc.CancelTask(context.Background(), id); err != nil {
			t.Errorf("CancelTask: %v", err)
		}
	}
	h = newHarness(t, 1, exec, func(c *TaskServiceConfig) { c.Store = store })
	h.store = store
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, validInput())
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != tasks.StatusCancelled {
		t.Errorf("returned status = %s, want cancelled", task.Status)
	}

	// The unit must not be left holding the only slot.
	waitFor(t, func() bool {
		st := h.svc.SchedulerStatus()
		return st.Running == 0 && st.Queued == 0
	})

	stored := waitStatus(t, h.store, task.ID, tasks.StatusCancelled)
	if stored.Result != nil || stored.Error != nil {
		t.Errorf("cancelled task carries an outcome: %+v", stored)
	}

	// The freed slot takes the next task.
	next, err := h.svc.CreateTask(ctx, validInput())
	if err != nil {
		t.Fatalf("CreateTask next: %v", err)
	}
	waitFor(t, func() bool { return h.svc.SchedulerStatus().Running == 1 })
	if _, err := h.svc.CancelTask(ctx, next.ID); err != nil {
		t.Fatalf("CancelTask next: %v", err)
	}
}

func TestCancelBeforeStartNeverEnqueues(t *testing.T) {
	exec := succeed(`{}`)

	store := &cancelOnCreate{Store: tasks.NewFileStore(t.TempDir())}
	h := newHarness(t, 1, exec, func(c *TaskServiceConfig) { c.Store = store })
	h.store = store
	ctx := context.Background()

	task, err := h.svc.CreateTask(ctx, validInput())
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != tasks.StatusCancelled {
		t.Errorf("returned status = %s, want cancelled", task.Status)
	}
	if st := h.svc.SchedulerStatus(); st.Running != 0 || st.Queued != 0 {
		t.Errorf("scheduler status = %+v, want idle", st)
	}
	if n := exec.executions(); n != 0 {
		t.Errorf("executions = %d, want 0", n)
	}
}

// cancelOnCreate settles every task as cancelled the moment it is persisted.
type cancelOnCreate struct {
	tasks.Store
}

func (s *cancelOnCreate) Create(ctx context.Context, task *tasks.Task) error {
	if err := s.Store.Create(ctx, task); err != nil {
		return err
	}
	_, err := s.Store.Update(ctx, task.ID, func(t *tasks.Task) error { return t.Cancel(t.CreatedAt) })
	return err
}
