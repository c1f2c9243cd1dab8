package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTaskInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.opts.Tasks.CreateTask(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := tasks.ListFilter{Status: tasks.Status(r.URL.Query().Get("status")), Limit: limit}
	list, err := s.opts.Tasks.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.opts.Tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if _, err := s.opts.Tasks.CancelTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePurgeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.opts.Tasks.PurgeTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTaskEvents returns the persisted lifecycle events of one task.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.opts.Tasks.GetTask(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	list := []events.Event{}
	if s.opts.EventLog != nil {
		logged, err := s.opts.EventLog.TaskEvents(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		list = logged
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Tasks.ListArtifacts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
