package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dohr-michael/swarm/internal/knowledge"
	"github.com/dohr-michael/swarm/internal/profiles"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
	"github.com/dohr-michael/swarm/internal/workspace"
)

// Error codes returned in the error envelope.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeTaskNotFound = "TASK_NOT_FOUND"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeForbidden    = "FORBIDDEN"
	CodeNoWorkspace  = "NO_WORKSPACE"
	CodeMissingPath  = "MISSING_PATH"
	CodeNotFile      = "NOT_FILE"
	CodeWorkspace    = "WORKSPACE_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

// httpError is an error already classified by a handler.
type httpError struct {
	status int
	APIError
}

func (e *httpError) Error() string { return e.Message }

func newHTTPError(status int, code, message string) *httpError {
	return &httpError{status: status, APIError: APIError{Code: code, Message: message}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// classify maps a service error onto a status and an envelope.
func classify(err error) (int, APIError) {
	var (
		herr *httpError
		verr *service.ValidationError
		werr *workspace.Error
	)
	switch {
	case errors.As(err, &herr):
		return herr.status, herr.APIError
	case errors.As(err, &verr):
		return http.StatusBadRequest, APIError{Code: CodeValidation, Message: "Invalid request", Details: verr.Issues}
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound, APIError{Code: CodeTaskNotFound, Message: "Task not found"}
	case errors.Is(err, profiles.ErrNotFound):
		return http.StatusNotFound, APIError{Code: CodeNotFound, Message: "Profile not found"}
	case errors.Is(err, profiles.ErrDuplicate):
		return http.StatusConflict, APIError{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, knowledge.ErrNotFound):
		return http.StatusNotFound, APIError{Code: CodeNotFound, Message: "Knowledge entry not found"}
	case errors.Is(err, knowledge.ErrDuplicate):
		return http.StatusConflict, APIError{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, knowledge.ErrInvalid):
		return http.StatusBadRequest, APIError{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, workspace.ErrOutsideRoot):
		return http.StatusForbidden, APIError{Code: CodeForbidden, Message: "Access denied"}
	case errors.Is(err, service.ErrNotSettled):
		return http.StatusConflict, APIError{Code: CodeConflict, Message: "Task has not settled"}
	case errors.Is(err, service.ErrNoWorkspace):
		return http.StatusNotFound, APIError{Code: CodeNoWorkspace, Message: "Task has no workspace"}
	case errors.As(err, &werr):
		return http.StatusInternalServerError, APIError{Code: CodeWorkspace, Message: "Workspace operation failed"}
	default:
		return http.StatusInternalServerError, APIError{Code: CodeInternal, Message: "Internal server error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return newHTTPError(http.StatusBadRequest, CodeValidation, "Invalid JSON body: "+err.Error())
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &service.ValidationError{Issues: []service.Issue{{Path: key, Message: "must be a non-negative integer"}}}
	}
	return n, nil
}
