package tasks

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
)

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	Status Status `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// UpdateFunc mutates a task inside an atomic read-modify-write. Returning an
// error aborts the update.
type UpdateFunc func(t *Task) error

// Store persists task records.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// List returns tasks newest first.
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*Task, error)
	Close() error
}
