package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedAgent replays messages, then optionally blocks until cancelled.
type scriptedAgent struct {
	messages []AgentMessage
	err      error
	hang     bool
	queryErr error
	query    AgentQuery
}

func (s *scriptedAgent) Query(ctx context.Context, q AgentQuery) (<-chan AgentEvent, error) {
	s.query = q
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	ch := make(chan AgentEvent)
	go func() {
		defer close(ch)
		for _, m := range s.messages {
			select {
			case ch <- AgentEvent{Message: m}:
			case <-ctx.Done():
				return
			}
		}
		if s.err != nil {
			select {
			case ch <- AgentEvent{Err: s.err}:
			case <-ctx.Done():
			}
			return
		}
		if s.hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func initMsg() AgentMessage {
	return AgentMessage{Type: MessageSystem, Subtype: "init", SessionID: "abcdef1234567890", Model: "sonnet"}
}

func TestAgentSuccessStructured(t *testing.T) {
	agent := &scriptedAgent{messages: []AgentMessage{
		initMsg(),
		{Type: MessageAssistant, Message: &AgentTurn{Content: []ContentBlock{
			{Type: "text", Text: "Looking around"},
			{Type: "tool_use", Name: "Bash", Input: json.RawMessage(`{"command":"ls"}`)},
		}}},
		{Type: MessageResult, Subtype: "success", Result: "done", StructuredOutput: json.RawMessage(`{"ok":true}`), TotalCostUSD: 0.0123, DurationMs: 1500},
	}}

	var lines []string
	res := NewAgentExecutor(agent).Execute(context.Background(), Params{
		TaskID:   "t1",
		Prompt:   "list files",
		OnOutput: func(c string) { lines = append(lines, c) },
	})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if got := decode(t, res.Data); got["ok"] != true {
		t.Errorf("data = %v", got)
	}
	if res.Cost == nil || *res.Cost != 0.0123 {
		t.Errorf("cost = %v", res.Cost)
	}
	want := []string{
		"[system] Session abcdef12 started (model: sonnet)\n",
		"[assistant] Looking around\n[tool] Bash({\"command\":\"ls\"})\n",
		"[result] Task completed (cost: $0.0123, duration: 1500ms)\n",
	}
	if strings.Join(lines, "") != strings.Join(want, "") {
		t.Errorf("lines = %q, want %q", lines, want)
	}
	if res.Logs != strings.Join(want, "") {
		t.Errorf("logs = %q", res.Logs)
	}
	if !strings.HasPrefix(agent.query.Prompt, "IMPORTANT: Your working directory is the task workspace.") ||
		!strings.HasSuffix(agent.query.Prompt, "list files") {
		t.Errorf("prompt not wrapped: %q", agent.query.Prompt)
	}
}

func TestAgentResultTextParsing(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{"json text", `{"n": 1}`, `{"n": 1}`},
		{"raw text", "hello", `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &scriptedAgent{messages: []AgentMessage{{Type: MessageResult, Subtype: "success", Result: tt.result}}}
			res := NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1"})
			if !res.Success {
				t.Fatalf("expected success, got %+v", res.Error)
			}
			if string(res.Data) != tt.want {
				t.Errorf("data = %s, want %s", res.Data, tt.want)
			}
		})
	}
}

func TestAgentErrorResult(t *testing.T) {
	agent := &scriptedAgent{messages: []AgentMessage{
		{Type: MessageResult, Subtype: "error_max_turns", IsError: true, Errors: []string{"too many turns", "gave up"}},
	}}
	res := NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Code != "ERROR_MAX_TURNS" || res.Error.Message != "too many turns; gave up" {
		t.Errorf("error = %+v", res.Error)
	}
	if !strings.Contains(res.Logs, "[error] too many turns; gave up") {
		t.Errorf("logs = %q", res.Logs)
	}

	agent = &scriptedAgent{messages: []AgentMessage{{Type: MessageResult, Subtype: "error_during_execution"}}}
	res = NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1"})
	if res.Error.Message != "SDK error: error_during_execution" {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestAgentNoResult(t *testing.T) {
	agent := &scriptedAgent{messages: []AgentMessage{initMsg()}}
	res := NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1"})
	if res.Success || res.Error.Code != CodeNoResult {
		t.Fatalf("expected NO_RESULT, got %+v", res.Error)
	}
}

func TestAgentStreamError(t *testing.T) {
	agent := &scriptedAgent{err: errors.New("overloaded")}
	res := NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1"})
	if res.Success || res.Error.Code != CodeSDK || res.Error.Message != "overloaded" {
		t.Fatalf("expected SDK_ERROR, got %+v", res.Error)
	}

	agent = &scriptedAgent{queryErr: errors.New("spawn failed")}
	res = NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1"})
	if res.Success || res.Error.Code != CodeSDK {
		t.Fatalf("expected SDK_ERROR, got %+v", res.Error)
	}
}

func TestAgentTimeout(t *testing.T) {
	agent := &scriptedAgent{messages: []AgentMessage{initMsg()}, hang: true}
	res := NewAgentExecutor(agent).Execute(context.Background(), Params{TaskID: "t1", Timeout: 100 * time.Millisecond})
	if res.Success || res.Error.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res.Error)
	}
	if !strings.Contains(res.Logs, "[error] Task timed out after 0s") {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestAgentCancel(t *testing.T) {
	agent := &scriptedAgent{hang: true}
	e := NewAgentExecutor(agent)

	done := make(chan Result, 1)
	go func() {
		done <- e.Execute(context.Background(), Params{TaskID: "t1", Timeout: time.Minute})
	}()
	waitTracked(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.running["t1"] != nil
	})

	_ = e.Cancel(context.Background(), "t1")
	_ = e.Cancel(context.Background(), "t1")

	select {
	case res := <-done:
		if res.Success || res.Error.Code != CodeCancelled || res.Error.Message != "Task was cancelled" {
			t.Fatalf("expected CANCELLED, got %+v", res.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
	_ = e.Cancel(context.Background(), "unknown")
}
