package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

type TaskCreatedPayload struct {
	Mode string            `json:"mode"`
	Tags map[string]string `json:"tags,omitempty"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskRunningPayload struct {
	Mode string `json:"mode"`
}

func (TaskRunningPayload) EventType() EventType { return EventTaskRunning }

type TaskCompletedPayload struct {
	Valid      bool     `json:"valid"`
	DurationMs int64    `json:"duration_ms"`
	Cost       *float64 `json:"cost,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	DurationMs int64  `json:"duration_ms"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskCancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

// NewTypedEvent builds an event from a typed payload.
func NewTypedEvent(source EventSource, taskID string, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		TaskID:    taskID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event payload back into its typed form.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

// IsTerminal reports whether the event closes a task's lifecycle.
func IsTerminal(t EventType) bool {
	for _, tt := range TerminalTypes {
		if tt == t {
			return true
		}
	}
	return false
}
