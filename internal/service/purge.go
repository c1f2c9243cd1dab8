package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dohr-michael/swarm/internal/tasks"
)

// ErrNotSettled is returned when purging a task that is still queued or running.
var ErrNotSettled = errors.New("task has not settled")

// PurgeTask removes the workspace and the transcripts of a settled task.
// The record stays, with its workspace path cleared.
func (s *TaskService) PurgeTask(ctx context.Context, id string) (*tasks.Task, error) {
	task, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Status.Terminal() {
		return nil, ErrNotSettled
	}

	if task.WorkspacePath != "" {
		if err := s.cfg.Workspaces.Remove(task.WorkspacePath); err != nil {
			return nil, err
		}
	}
	if err := s.DeleteTaskLogs(ctx, id); err != nil {
		return nil, err
	}

	updated, err := s.cfg.Store.Update(ctx, id, func(t *tasks.Task) error {
		t.WorkspacePath = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("task purged", "task_id", id)
	return updated, nil
}
