// Package executor defines the contract every execution back-end fulfils and
// the three back-ends: a local subprocess, a container, and a streaming agent.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dohr-michael/swarm/internal/workspace"
)

// Failure codes reported in Result.Error.
const (
	CodeTimeout   = "TIMEOUT"
	CodeProcess   = "PROCESS_ERROR"
	CodeContainer = "CONTAINER_ERROR"
	CodeSDK       = "SDK_ERROR"
	CodeCancelled = "CANCELLED"
	CodeNoResult  = "NO_RESULT"
)

// OutputFunc receives output chunks as an execution produces them.
type OutputFunc func(chunk string)

// Params are the fully resolved inputs of one execution.
type Params struct {
	TaskID         string
	Prompt         string
	APIKey         string
	WorkspacePath  string
	Schema         json.RawMessage
	Timeout        time.Duration
	Model          string
	PermissionMode string
	MCPConfigPath  string
	Agents         json.RawMessage
	OnOutput       OutputFunc
}

func (p Params) emit(chunk string) {
	if p.OnOutput != nil && chunk != "" {
		p.OnOutput(chunk)
	}
}

// Error is a classified execution failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Result is produced once per execution attempt.
type Result struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Valid     *bool           `json:"valid,omitempty"`
	Logs      string          `json:"logs"`
	Artifacts []string        `json:"artifacts"`
	Duration  time.Duration   `json:"duration"`
	Cost      *float64        `json:"cost,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// Executor runs tasks. Execute never panics on back-end failure: every
// failure comes back as a Result with Success false and a classified code.
// Cancel is idempotent and a no-op for tasks the instance is not running.
type Executor interface {
	Execute(ctx context.Context, p Params) Result
	Cancel(ctx context.Context, taskID string) error
}

// Failure builds a failed result.
func Failure(code, message, logs string, duration time.Duration) Result {
	return Result{
		Success:   false,
		Logs:      logs,
		Artifacts: []string{},
		Duration:  duration,
		Error:     &Error{Code: code, Message: message},
	}
}

// IsTimeout reports whether an aborted run should be attributed to its
// deadline: anything observed within one second of the timeout counts. This
// is an approximation; a crash just before the deadline is misclassified.
func IsTimeout(elapsed, timeout time.Duration) bool {
	return timeout > 0 && elapsed >= timeout-time.Second
}

// abortFailure classifies a run that was interrupted by a timer or a cancel.
func abortFailure(elapsed, timeout time.Duration, logs string) Result {
	if IsTimeout(elapsed, timeout) {
		return Failure(CodeTimeout, fmt.Sprintf("Task timed out after %ds", int(timeout.Seconds())), logs, elapsed)
	}
	return Failure(CodeCancelled, "Task was cancelled", logs, elapsed)
}

func boolPtr(b bool) *bool { return &b }

func artifactNames(dir string) []string {
	names := []string{}
	if dir == "" {
		return names
	}
	list, err := workspace.ListArtifacts(dir, nil)
	if err != nil {
		return names
	}
	for _, a := range list {
		names = append(names, a.Path)
	}
	return names
}
