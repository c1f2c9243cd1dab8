package storage

import (
	"log/slog"

	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/storage/dirstore"
)

const eventsFile = "events.jsonl"

// EventLogger persists bus events to JSONL files, one directory per task.
type EventLogger struct {
	ds          *dirstore.DirStore
	unsubscribe func()
}

// NewEventLogger creates an EventLogger that subscribes to all bus events
// and appends them to dir/<task_id>/events.jsonl.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{ds: dirstore.New(dir, "events")}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	if e.TaskID == "" {
		return
	}
	if err := el.write(e); err != nil {
		slog.Warn("event log write failed", "task_id", e.TaskID, "type", e.Type, "error", err)
	}
}

func (el *EventLogger) write(e events.Event) error {
	el.ds.Lock()
	defer el.ds.Unlock()

	if err := el.ds.EnsureDir(e.TaskID); err != nil {
		return err
	}
	return el.ds.AppendJSONL(e.TaskID, eventsFile, e)
}

// TaskEvents returns the persisted events of a task in emission order.
// A task without events yields an empty slice.
func (el *EventLogger) TaskEvents(taskID string) ([]events.Event, error) {
	el.ds.RLock()
	defer el.ds.RUnlock()

	list, err := dirstore.LoadJSONL[events.Event](el.ds, taskID, eventsFile)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []events.Event{}
	}
	return list, nil
}

// Delete removes the event file of a task.
func (el *EventLogger) Delete(taskID string) error {
	el.ds.Lock()
	defer el.ds.Unlock()
	return el.ds.RemoveDir(taskID)
}
