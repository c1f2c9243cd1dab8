package service

import (
	"context"
	"log/slog"

	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/tasks"
)

// followBuffer bounds the chunks queued for one live follower.
const followBuffer = 256

// TaskLogs is the one-shot view of a task's transcript.
type TaskLogs struct {
	TaskID string       `json:"taskId"`
	Status tasks.Status `json:"status"`
	Logs   string       `json:"logs"`
}

// GetTaskLogs returns the accumulated output, falling back to the archive
// when the in-memory buffer is gone.
func (s *TaskService) GetTaskLogs(ctx context.Context, id string) (*TaskLogs, error) {
	task, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TaskLogs{TaskID: id, Status: task.Status, Logs: s.transcript(id)}, nil
}

func (s *TaskService) transcript(id string) string {
	if s.cfg.Logs.Has(id) || s.cfg.Archive == nil {
		return s.cfg.Logs.Get(id)
	}
	text, _, err := s.cfg.Archive.Load(id)
	if err != nil {
		slog.Warn("load archived logs", "task_id", id, "error", err)
	}
	return text
}

// SubscribeTaskLogs registers fn for chunks appended from now on.
func (s *TaskService) SubscribeTaskLogs(ctx context.Context, id string, fn func(chunk string)) (func(), error) {
	if _, err := s.cfg.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.cfg.Logs.Subscribe(id, fn), nil
}

// LogStream is a live view of a task's output. Chunks is closed by Close or
// when the buffer is cleared; Settled is closed once the task reaches a
// terminal state (only when an event bus is wired).
type LogStream struct {
	Task     *tasks.Task
	Snapshot string
	Chunks   <-chan string
	Settled  <-chan struct{}

	stop []func()
}

// Close releases the subscriptions. Safe to call more than once.
func (ls *LogStream) Close() {
	for _, fn := range ls.stop {
		fn()
	}
	ls.stop = nil
}

// FollowTaskLogs snapshots the transcript and follows new chunks. The
// settlement watch is armed before the status read so a task finishing in
// between is still observed.
func (s *TaskService) FollowTaskLogs(ctx context.Context, id string) (*LogStream, error) {
	settled := make(chan struct{})
	ls := &LogStream{Settled: settled}

	if s.cfg.Bus != nil {
		done := false
		ch, unsub := s.cfg.Bus.SubscribeChan(8, events.TerminalTypes...)
		quit := make(chan struct{})
		go func() {
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return
					}
					if e.TaskID == id && !done {
						done = true
						close(settled)
					}
				case <-quit:
					return
				}
			}
		}()
		ls.stop = append(ls.stop, func() { close(quit); unsub() })
	}

	task, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		ls.Close()
		return nil, err
	}
	ls.Task = task

	if task.Status.Terminal() {
		ls.Snapshot = s.transcript(id)
		closed := make(chan string)
		close(closed)
		ls.Chunks = closed
		return ls, nil
	}

	snapshot, chunks, stop := s.cfg.Logs.Follow(id, followBuffer)
	ls.Snapshot, ls.Chunks = snapshot, chunks
	ls.stop = append(ls.stop, stop)
	return ls, nil
}

// DeleteTaskLogs drops the in-memory buffer and the archived transcript.
func (s *TaskService) DeleteTaskLogs(ctx context.Context, id string) error {
	if _, err := s.cfg.Store.Get(ctx, id); err != nil {
		return err
	}
	s.cfg.Logs.Clear(id)
	if s.cfg.Archive != nil {
		return s.cfg.Archive.Delete(id)
	}
	return nil
}
