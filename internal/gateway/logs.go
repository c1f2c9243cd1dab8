package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
)

// LogEvent is one server-sent event of a streamed transcript.
type LogEvent struct {
	Type    string       `json:"type"` // "log" or "done"
	Content string       `json:"content,omitempty"`
	Status  tasks.Status `json:"status,omitempty"`
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !wantsStream(r) {
		logs, err := s.opts.Tasks.GetTaskLogs(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
		return
	}

	stream, err := s.opts.Tasks.FollowTaskLogs(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stream.Close()

	// A settled task has nothing left to stream: answer with the one-shot body.
	if stream.Task.Status.Terminal() {
		writeJSON(w, http.StatusOK, service.TaskLogs{
			TaskID: stream.Task.ID,
			Status: stream.Task.Status,
			Logs:   stream.Snapshot,
		})
		return
	}
	s.streamLogs(w, r, stream)
}

func (s *Server) handleDeleteTaskLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Tasks.DeleteTaskLogs(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// streamLogs writes the snapshot, then each chunk, then a done event once the
// running task settles. Settlement is observed through lifecycle events, with a
// status poll as fallback.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request, stream *service.LogStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("response writer does not support streaming"))
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev LogEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if stream.Snapshot != "" {
		if send(LogEvent{Type: "log", Content: stream.Snapshot}) != nil {
			return
		}
	}
	ctx := r.Context()
	id := stream.Task.ID
	ticker := time.NewTicker(s.opts.LogPoll)
	defer ticker.Stop()

	chunks := stream.Chunks
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if send(LogEvent{Type: "log", Content: chunk}) != nil {
				return
			}
		case <-stream.Settled:
			s.finishStream(ctx, id, chunks, send)
			return
		case <-ticker.C:
			task, err := s.opts.Tasks.GetTask(ctx, id)
			if err != nil || task.Status.Terminal() {
				s.finishStream(ctx, id, chunks, send)
				return
			}
		}
	}
}

// finishStream flushes chunks already queued, then sends the final status.
func (s *Server) finishStream(ctx context.Context, id string, chunks <-chan string, send func(LogEvent) error) {
	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if send(LogEvent{Type: "log", Content: chunk}) != nil {
				return
			}
		default:
			chunks = nil
		}
	}
	status := tasks.StatusFailed
	if task, err := s.opts.Tasks.GetTask(context.WithoutCancel(ctx), id); err == nil {
		status = task.Status
	}
	_ = send(LogEvent{Type: "done", Status: status})
}
