package tasks

import (
	"context"
	"errors"
	"time"
)

// CodeInterrupted marks tasks whose process died before they settled.
const CodeInterrupted = "INTERRUPTED"

// RecoverOrphans fails every task a previous process left queued or running.
// The in-flight queue is not restored. Should be called on startup before the
// scheduler accepts work.
func RecoverOrphans(ctx context.Context, store Store) ([]*Task, error) {
	var orphans []*Task
	for _, status := range []Status{StatusQueued, StatusRunning} {
		list, err := store.List(ctx, ListFilter{Status: status})
		if err != nil {
			return orphans, err
		}
		orphans = append(orphans, list...)
	}

	var recovered []*Task
	now := time.Now()
	for _, t := range orphans {
		var elapsed time.Duration
		if t.StartedAt != nil {
			elapsed = now.Sub(*t.StartedAt)
		}
		updated, err := store.Update(ctx, t.ID, func(t *Task) error {
			return t.Fail(Error{Code: CodeInterrupted, Message: "Task interrupted by server restart"}, elapsed, now)
		})
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return recovered, err
		}
		recovered = append(recovered, updated)
	}
	return recovered, nil
}
