package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/swarm/internal/storage"
)

func storeDrivers(t *testing.T) map[string]Store {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "swarm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]Store{
		"file":   NewFileStore(t.TempDir()),
		"sqlite": NewSQLiteStore(db),
	}
}

func newTask(id string, createdAt time.Time) *Task {
	return &Task{
		ID:        id,
		Status:    StatusQueued,
		Prompt:    "say hi",
		Mode:      ModeProcess,
		Schema:    json.RawMessage(`{"type":"object"}`),
		Timeout:   60000,
		Model:     "sonnet",
		Tags:      map[string]string{"team": "core"},
		CreatedAt: createdAt,
	}
}

func TestStoreCRUD(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Now().UTC().Truncate(time.Millisecond)
			if err := store.Create(ctx, newTask("a", created)); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := store.Create(ctx, newTask("a", created)); err == nil {
				t.Error("expected error on duplicate id")
			}

			got, err := store.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Prompt != "say hi" || got.Mode != ModeProcess || got.Timeout != 60000 {
				t.Errorf("Get: unexpected task %+v", got)
			}
			if got.Tags["team"] != "core" {
				t.Errorf("Tags = %v", got.Tags)
			}
			if !got.CreatedAt.Equal(created) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
			}
			if got.StartedAt != nil || got.Result != nil {
				t.Errorf("fresh task carries lifecycle fields: %+v", got)
			}

			started := created.Add(time.Second)
			if _, err := store.Update(ctx, "a", func(t *Task) error { return t.Start(started) }); err != nil {
				t.Fatalf("Update start: %v", err)
			}
			cost := 0.5
			updated, err := store.Update(ctx, "a", func(t *Task) error {
				return t.Complete(Result{Data: json.RawMessage(`{"result":"hi"}`), Valid: true}, 2*time.Second, &cost, started.Add(2*time.Second))
			})
			if err != nil {
				t.Fatalf("Update complete: %v", err)
			}
			if updated.Status != StatusCompleted {
				t.Errorf("Update returned status %s", updated.Status)
			}

			got, err = store.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get after update: %v", err)
			}
			if got.Status != StatusCompleted {
				t.Errorf("Status = %s, want completed", got.Status)
			}
			if got.Result == nil || string(got.Result.Data) != `{"result":"hi"}` || !got.Result.Valid {
				t.Errorf("Result = %+v", got.Result)
			}
			if got.Duration == nil || *got.Duration != 2000 {
				t.Errorf("Duration = %v, want 2000", got.Duration)
			}
			if got.Cost == nil || *got.Cost != 0.5 {
				t.Errorf("Cost = %v, want 0.5", got.Cost)
			}
			if got.StartedAt == nil || !got.StartedAt.Equal(started) {
				t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get: got %v, want ErrNotFound", err)
			}
			_, err := store.Update(ctx, "missing", func(*Task) error { return nil })
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Update: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreUpdateAbort(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = store.Create(ctx, newTask("a", time.Now()))

			boom := errors.New("boom")
			_, err := store.Update(ctx, "a", func(t *Task) error {
				t.Status = StatusRunning
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update: got %v, want boom", err)
			}
			got, _ := store.Get(ctx, "a")
			if got.Status != StatusQueued {
				t.Errorf("aborted update persisted: status %s", got.Status)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now()
			for i, id := range []string{"first", "second", "third"} {
				if err := store.Create(ctx, newTask(id, base.Add(time.Duration(i)*time.Second))); err != nil {
					t.Fatalf("Create %s: %v", id, err)
				}
			}
			_, _ = store.Update(ctx, "second", func(t *Task) error { return t.Start(time.Now()) })

			all, err := store.List(ctx, ListFilter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("List: got %d tasks, want 3", len(all))
			}
			if all[0].ID != "third" || all[2].ID != "first" {
				t.Errorf("List order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
			}

			running, _ := store.List(ctx, ListFilter{Status: StatusRunning})
			if len(running) != 1 || running[0].ID != "second" {
				t.Errorf("List running: %v", running)
			}

			limited, _ := store.List(ctx, ListFilter{Limit: 2})
			if len(limited) != 2 || limited[0].ID != "third" {
				t.Errorf("List limit: got %d tasks", len(limited))
			}

			none, _ := store.List(ctx, ListFilter{Status: StatusCancelled})
			if none == nil || len(none) != 0 {
				t.Errorf("List cancelled: got %v, want empty slice", none)
			}
		})
	}
}
