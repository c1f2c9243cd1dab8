// Package tasks holds the task record, its lifecycle state machine and the
// stores that persist it.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s names a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusRunning:   {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
	StatusRunning: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Mode selects the execution back-end.
type Mode string

const (
	ModeProcess   Mode = "process"
	ModeContainer Mode = "container"
	ModeSDK       Mode = "sdk"
)

// Modes lists the supported execution modes.
var Modes = []Mode{ModeProcess, ModeContainer, ModeSDK}

// Result is the payload of a completed task.
type Result struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Valid bool            `json:"valid"`
}

// Error is the classified failure of a failed task.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is the persisted record of one unit of work.
type Task struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	Prompt         string            `json:"prompt"`
	Mode           Mode              `json:"mode"`
	Schema         json.RawMessage   `json:"schema,omitempty"`
	Timeout        int64             `json:"timeout,omitempty"`
	Model          string            `json:"model,omitempty"`
	PermissionMode string            `json:"permissionMode,omitempty"`
	WorkspacePath  string            `json:"workspacePath,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Result         *Result           `json:"result,omitempty"`
	Error          *Error            `json:"error,omitempty"`
	Duration       *int64            `json:"duration,omitempty"`
	Cost           *float64          `json:"cost,omitempty"`
}

func (t *Task) transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// Start marks the task running.
func (t *Task) Start(now time.Time) error {
	if err := t.transition(StatusRunning); err != nil {
		return err
	}
	t.StartedAt = &now
	return nil
}

// Complete records a successful outcome.
func (t *Task) Complete(res Result, duration time.Duration, cost *float64, now time.Time) error {
	if err := t.transition(StatusCompleted); err != nil {
		return err
	}
	t.Result = &res
	t.Error = nil
	t.Cost = cost
	t.finish(duration, now)
	return nil
}

// Fail records a failed outcome.
func (t *Task) Fail(e Error, duration time.Duration, now time.Time) error {
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	t.Error = &e
	t.Result = nil
	t.finish(duration, now)
	return nil
}

// Cancel records an explicit cancellation.
func (t *Task) Cancel(now time.Time) error {
	if err := t.transition(StatusCancelled); err != nil {
		return err
	}
	var elapsed time.Duration
	if t.StartedAt != nil {
		elapsed = now.Sub(*t.StartedAt)
	}
	t.finish(elapsed, now)
	return nil
}

func (t *Task) finish(duration time.Duration, now time.Time) {
	ms := duration.Milliseconds()
	t.Duration = &ms
	t.CompletedAt = &now
}
