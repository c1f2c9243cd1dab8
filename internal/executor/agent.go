package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const workspacePreamble = "IMPORTANT: Your working directory is the task workspace. " +
	"When creating or saving any output files, save them in the current working directory (.) " +
	"unless the user explicitly specifies an absolute path. This ensures artifacts are collected properly.\n\n"

const toolInputLimit = 200

// Agent message types.
const (
	MessageSystem    = "system"
	MessageAssistant = "assistant"
	MessageUser      = "user"
	MessageResult    = "result"
)

// AgentMessage is one message of an agent session. Its JSON form matches the
// agent CLI's stream-json lines.
type AgentMessage struct {
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	Model            string          `json:"model,omitempty"`
	Message          *AgentTurn      `json:"message,omitempty"`
	Result           string          `json:"result,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	TotalCostUSD     float64         `json:"total_cost_usd,omitempty"`
	DurationMs       int64           `json:"duration_ms,omitempty"`
	IsError          bool            `json:"is_error,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

// AgentTurn carries the content blocks of an assistant turn.
type AgentTurn struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a text block or a tool invocation.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AgentQuery starts one agent session.
type AgentQuery struct {
	Prompt         string
	APIKey         string
	Cwd            string
	Model          string
	PermissionMode string
	MCPConfigPath  string
	Schema         json.RawMessage
	Agents         json.RawMessage
}

// AgentEvent is either a message or a terminal stream error.
type AgentEvent struct {
	Message AgentMessage
	Err     error
}

// AgentClient opens agent sessions. The returned channel is closed when the
// session ends; sessions must stop promptly once ctx is cancelled.
type AgentClient interface {
	Query(ctx context.Context, q AgentQuery) (<-chan AgentEvent, error)
}

// AgentExecutor drives an agent session and turns its messages into log
// lines as they arrive.
type AgentExecutor struct {
	client AgentClient

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewAgentExecutor creates a streaming agent executor.
func NewAgentExecutor(client AgentClient) *AgentExecutor {
	return &AgentExecutor{
		client:  client,
		running: make(map[string]context.CancelFunc),
	}
}

// Execute implements Executor.
func (e *AgentExecutor) Execute(ctx context.Context, p Params) Result {
	start := time.Now()

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	e.track(p.TaskID, abort)
	defer e.untrack(p.TaskID)

	if p.Timeout > 0 {
		timer := time.AfterFunc(p.Timeout, abort)
		defer timer.Stop()
	}

	var logs strings.Builder
	push := func(line string) {
		logs.WriteString(line)
		p.emit(line)
	}
	aborted := func() Result {
		res := abortFailure(time.Since(start), p.Timeout, "")
		push("[error] " + res.Error.Message + "\n")
		res.Logs = logs.String()
		return res
	}
	fail := func(code, msg string) Result {
		push("[error] " + msg + "\n")
		return Failure(code, msg, logs.String(), time.Since(start))
	}

	stream, err := e.client.Query(runCtx, AgentQuery{
		Prompt:         workspacePreamble + p.Prompt,
		APIKey:         p.APIKey,
		Cwd:            p.WorkspacePath,
		Model:          p.Model,
		PermissionMode: p.PermissionMode,
		MCPConfigPath:  p.MCPConfigPath,
		Schema:         p.Schema,
		Agents:         p.Agents,
	})
	if err != nil {
		if runCtx.Err() != nil {
			return aborted()
		}
		return fail(CodeSDK, err.Error())
	}

	for {
		select {
		case <-runCtx.Done():
			return aborted()
		case ev, ok := <-stream:
			if !ok {
				if runCtx.Err() != nil {
					return aborted()
				}
				return fail(CodeNoResult, "Agent session ended without a result")
			}
			if ev.Err != nil {
				if runCtx.Err() != nil {
					return aborted()
				}
				return fail(CodeSDK, ev.Err.Error())
			}
			if ev.Message.Type != MessageResult {
				push(describe(ev.Message))
				continue
			}

			res := finish(ev.Message, time.Since(start), push)
			res.Logs = logs.String()
			if res.Success {
				res.Artifacts = artifactNames(p.WorkspacePath)
			}
			return res
		}
	}
}

// describe renders a non-terminal message as log lines.
func describe(msg AgentMessage) string {
	switch msg.Type {
	case MessageSystem:
		if msg.Subtype == "init" {
			id := msg.SessionID
			if len(id) > 8 {
				id = id[:8]
			}
			return fmt.Sprintf("[system] Session %s started (model: %s)\n", id, msg.Model)
		}
	case MessageAssistant:
		if msg.Message == nil {
			return ""
		}
		var b strings.Builder
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					fmt.Fprintf(&b, "[assistant] %s\n", block.Text)
				}
			case "tool_use":
				input := string(block.Input)
				if len(input) > toolInputLimit {
					input = input[:toolInputLimit]
				}
				fmt.Fprintf(&b, "[tool] %s(%s)\n", block.Name, input)
			}
		}
		return b.String()
	}
	return ""
}

// finish converts the terminal result message into a Result.
func finish(msg AgentMessage, elapsed time.Duration, push func(string)) Result {
	if msg.Subtype == "success" && !msg.IsError {
		duration := elapsed
		if msg.DurationMs > 0 {
			duration = time.Duration(msg.DurationMs) * time.Millisecond
		}
		push(fmt.Sprintf("[result] Task completed (cost: $%.4f, duration: %dms)\n", msg.TotalCostUSD, duration.Milliseconds()))

		res := Result{
			Success:  true,
			Data:     resultData(msg.StructuredOutput, msg.Result),
			Valid:    boolPtr(true),
			Duration: elapsed,
		}
		if msg.TotalCostUSD > 0 {
			cost := msg.TotalCostUSD
			res.Cost = &cost
		}
		return res
	}

	message := strings.Join(msg.Errors, "; ")
	if message == "" && msg.IsError && msg.Result != "" {
		message = msg.Result
	}
	if message == "" {
		message = "SDK error: " + msg.Subtype
	}
	code := CodeSDK
	if msg.Subtype != "" && msg.Subtype != "success" {
		code = strings.ToUpper(msg.Subtype)
	}
	push("[error] " + message + "\n")
	return Failure(code, message, "", elapsed)
}

// Cancel implements Executor.
func (e *AgentExecutor) Cancel(_ context.Context, taskID string) error {
	e.mu.Lock()
	abort, ok := e.running[taskID]
	e.mu.Unlock()
	if ok {
		abort()
	}
	return nil
}

func (e *AgentExecutor) track(taskID string, abort context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[taskID] = abort
}

func (e *AgentExecutor) untrack(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, taskID)
}
