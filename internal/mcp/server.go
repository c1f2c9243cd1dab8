package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
	"github.com/dohr-michael/swarm/internal/workspace"
)

// TaskBackend is what the tools operate on: the in-process TaskService or a
// remote server through client.Client.
type TaskBackend interface {
	CreateTask(ctx context.Context, in service.CreateTaskInput) (*tasks.Task, error)
	GetTask(ctx context.Context, id string) (*tasks.Task, error)
	ListTasks(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error)
	CancelTask(ctx context.Context, id string) (*tasks.Task, error)
	GetTaskLogs(ctx context.Context, id string) (*service.TaskLogs, error)
}

// Options tune the tool server.
type Options struct {
	// Filter restricts the exposed tools to a tool name or "readonly".
	Filter string
	// APIKey is used by create_task when the caller passes none.
	APIKey  string
	Version string
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// NewMCPServer creates an MCP server exposing the task tools.
func NewMCPServer(backend TaskBackend, opts Options) *mcpsdk.Server {
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "swarm",
		Version: opts.Version,
	}, nil)

	t := &toolset{backend: backend, apiKey: opts.APIKey}
	for _, spec := range toolSpecs {
		if opts.Filter != "" && !matchesFilter(spec, opts.Filter) {
			continue
		}
		handler := t.handler(spec.Name)
		name := spec.Name
		server.AddTool(toMCPTool(spec), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			out, err := handler(ctx, req.Params.Arguments)
			if err != nil {
				slog.Debug("mcp tool error", "tool", name, "error", err)
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			text, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encode %s result: %w", name, err)
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
			}, nil
		})
		slog.Debug("mcp tool registered", "tool", name)
	}
	return server
}

// NewHTTPHandler serves the tool server over streamable HTTP.
func NewHTTPHandler(backend TaskBackend, opts Options) http.Handler {
	server := NewMCPServer(backend, opts)
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return server }, nil)
}

// ServeStdio runs the tool server on stdin/stdout until ctx is done.
func ServeStdio(ctx context.Context, backend TaskBackend, opts Options) error {
	return NewMCPServer(backend, opts).Run(ctx, &mcpsdk.StdioTransport{})
}

// matchesFilter checks a tool against a filter: a tool name, or "readonly"
// for the tools that do not change state.
func matchesFilter(spec toolSpec, filter string) bool {
	for _, f := range strings.Split(filter, ",") {
		f = strings.TrimSpace(f)
		if f == spec.Name || (f == "readonly" && spec.ReadOnly) {
			return true
		}
	}
	return false
}

var toolSpecs = []toolSpec{
	{
		Name:        "create_task",
		Description: "Submit a task to the swarm. Returns the task record; poll get_task for the outcome.",
		Parameters: map[string]paramSpec{
			"prompt":         {Type: "string", Description: "Instructions for the agent", Required: true},
			"apiKey":         {Type: "string", Description: "Anthropic API key; defaults to the server's key"},
			"mode":           {Type: "string", Description: "Execution back-end", Enum: []string{"process", "container", "sdk"}},
			"schema":         {Type: "object", Description: "JSON Schema the result data must conform to"},
			"timeout":        {Type: "integer", Description: "Timeout in milliseconds"},
			"model":          {Type: "string", Description: "Model override"},
			"permissionMode": {Type: "string", Description: "Agent permission mode"},
			"mcpProfiles":    {Type: "array", Items: "string", Description: "MCP profile names to attach"},
			"mcpServers":     {Type: "object", Description: "Inline MCP servers: name -> {command, args, env}"},
			"tags":           {Type: "object", Description: "Free-form string tags"},
		},
	},
	{
		Name:        "get_task",
		Description: "Get a task record by id.",
		ReadOnly:    true,
		Parameters: map[string]paramSpec{
			"id": {Type: "string", Description: "Task id", Required: true},
		},
	},
	{
		Name:        "list_tasks",
		Description: "List tasks, newest first.",
		ReadOnly:    true,
		Parameters: map[string]paramSpec{
			"status": {Type: "string", Description: "Only tasks in this status", Enum: []string{"queued", "running", "completed", "failed", "cancelled"}},
			"limit":  {Type: "integer", Description: "Maximum number of tasks"},
		},
	},
	{
		Name:        "cancel_task",
		Description: "Cancel a queued or running task.",
		Parameters: map[string]paramSpec{
			"id": {Type: "string", Description: "Task id", Required: true},
		},
	},
	{
		Name:        "get_task_logs",
		Description: "Get the output transcript of a task.",
		ReadOnly:    true,
		Parameters: map[string]paramSpec{
			"id": {Type: "string", Description: "Task id", Required: true},
		},
	},
}

type toolset struct {
	backend TaskBackend
	apiKey  string
}

func (t *toolset) handler(name string) handlerFunc {
	switch name {
	case "create_task":
		return t.createTask
	case "get_task":
		return withID(t.backend.GetTask)
	case "list_tasks":
		return t.listTasks
	case "cancel_task":
		return withID(t.backend.CancelTask)
	case "get_task_logs":
		return withID(t.backend.GetTaskLogs)
	}
	panic("mcp: no handler for tool " + name)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func withID[T any](fn func(context.Context, string) (T, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args struct {
			ID string `json:"id"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		if args.ID == "" {
			return nil, errors.New("id is required")
		}
		return fn(ctx, args.ID)
	}
}

func (t *toolset) createTask(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Prompt         string                         `json:"prompt"`
		APIKey         string                         `json:"apiKey"`
		Mode           tasks.Mode                     `json:"mode"`
		Schema         json.RawMessage                `json:"schema"`
		Timeout        int64                          `json:"timeout"`
		Model          string                         `json:"model"`
		PermissionMode string                         `json:"permissionMode"`
		MCPProfiles    []string                       `json:"mcpProfiles"`
		MCPServers     map[string]workspace.MCPServer `json:"mcpServers"`
		Tags           map[string]string              `json:"tags"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.APIKey == "" {
		args.APIKey = t.apiKey
	}
	return t.backend.CreateTask(ctx, service.CreateTaskInput{
		Prompt:         args.Prompt,
		APIKey:         args.APIKey,
		Mode:           args.Mode,
		Schema:         args.Schema,
		Timeout:        args.Timeout,
		Model:          args.Model,
		PermissionMode: args.PermissionMode,
		MCPProfiles:    args.MCPProfiles,
		MCPServers:     args.MCPServers,
		Tags:           args.Tags,
	})
}

func (t *toolset) listTasks(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Status tasks.Status `json:"status"`
		Limit  int          `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return t.backend.ListTasks(ctx, tasks.ListFilter{Status: args.Status, Limit: args.Limit})
}
