package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dohr-michael/swarm/internal/storage/dirstore"
)

// FileStore persists each task as a directory holding meta.json.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.New(baseDir, "task")}
}

// Create persists a new task.
func (fs *FileStore) Create(_ context.Context, t *Task) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	var existing Task
	if err := fs.ds.ReadMeta(t.ID, &existing); err == nil {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if err := fs.ds.EnsureDir(t.ID); err != nil {
		return err
	}
	return fs.ds.WriteMeta(t.ID, t)
}

// Get reads a task by ID.
func (fs *FileStore) Get(_ context.Context, id string) (*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()
	return fs.read(id)
}

func (fs *FileStore) read(id string) (*Task, error) {
	var t Task
	if err := fs.ds.ReadMeta(id, &t); err != nil {
		if errors.Is(err, dirstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &t, nil
}

// List returns tasks matching filter, newest first.
func (fs *FileStore) List(_ context.Context, filter ListFilter) ([]*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	ids, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}

	result := []*Task{}
	for _, id := range ids {
		t, err := fs.read(id)
		if err != nil {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Update applies fn to the stored task under the store lock.
func (fs *FileStore) Update(_ context.Context, id string, fn UpdateFunc) (*Task, error) {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	t, err := fs.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := fs.ds.WriteMeta(id, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Close implements Store.
func (fs *FileStore) Close() error { return nil }
