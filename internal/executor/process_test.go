//go:build !windows

package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeCLI writes an executable shell script standing in for the agent CLI.
func fakeCLI(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return []string{path}
}

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return m
}

func TestProcessSuccessJSON(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `echo '{"result":"hi"}'`), time.Second)

	var mu sync.Mutex
	var chunks []string
	res := e.Execute(context.Background(), Params{
		TaskID:        "t1",
		Prompt:        "echo hi",
		WorkspacePath: t.TempDir(),
		OnOutput: func(c string) {
			mu.Lock()
			chunks = append(chunks, c)
			mu.Unlock()
		},
	})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if got := decode(t, res.Data); got["result"] != "hi" || len(got) != 1 {
		t.Errorf("data = %v, want {result: hi}", got)
	}
	if res.Valid == nil || !*res.Valid {
		t.Error("expected valid=true")
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(chunks, "") != res.Logs || !strings.Contains(res.Logs, `"result"`) {
		t.Errorf("output callback and logs disagree: %q vs %q", chunks, res.Logs)
	}
}

func TestProcessStructuredOutputAndCost(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `echo '{"type":"result","structured_output":{"answer":42},"total_cost_usd":0.25}'`), time.Second)
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "report.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := e.Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: ws})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if got := decode(t, res.Data); got["answer"] != float64(42) {
		t.Errorf("data = %v, want answer 42", got)
	}
	if res.Cost == nil || *res.Cost != 0.25 {
		t.Errorf("cost = %v, want 0.25", res.Cost)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0] != "report.md" {
		t.Errorf("artifacts = %v, want [report.md]", res.Artifacts)
	}
}

func TestProcessRawTextFallback(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `echo 'plain words'`), time.Second)

	res := e.Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir()})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	var s string
	if err := json.Unmarshal(res.Data, &s); err != nil || s != "plain words" {
		t.Errorf("data = %s, want raw string", res.Data)
	}
}

func TestProcessNonZeroExit(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `echo 'boom' >&2; exit 3`), time.Second)

	res := e.Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir(), Timeout: time.Minute})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Code != CodeProcess {
		t.Errorf("code = %s, want PROCESS_ERROR", res.Error.Code)
	}
	if !strings.Contains(res.Error.Message, "code 3") || !strings.Contains(res.Error.Message, "boom") {
		t.Errorf("message = %q, want exit code and stderr", res.Error.Message)
	}
}

func TestProcessTimeout(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `exec sleep 5`), time.Second)

	start := time.Now()
	res := e.Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir(), Timeout: time.Second})
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout did not stop the child")
	}
	if res.Success || res.Error.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res.Error)
	}
	if res.Error.Message != "Task timed out after 1s" {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestProcessCancel(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `exec sleep 5`), time.Second)

	done := make(chan Result, 1)
	go func() {
		done <- e.Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir(), Timeout: time.Minute})
	}()
	waitTracked(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.running["t1"] != nil
	})

	if err := e.Cancel(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-done:
		if res.Success || res.Error.Code != CodeCancelled {
			t.Fatalf("expected CANCELLED, got %+v", res.Error)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("cancel did not stop the child")
	}

	if err := e.Cancel(context.Background(), "unknown"); err != nil {
		t.Errorf("cancel of unknown task should be a no-op, got %v", err)
	}
}

func TestProcessContextCancel(t *testing.T) {
	e := NewProcessExecutor(fakeCLI(t, `exec sleep 5`), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := e.Execute(ctx, Params{TaskID: "t1", WorkspacePath: t.TempDir()})
	if res.Success || res.Error.Code != CodeCancelled {
		t.Fatalf("expected CANCELLED, got %+v", res.Error)
	}
}

func TestProcessEnvironment(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	t.Setenv("ANTHROPIC_API_KEY", "parent-key")
	e := NewProcessExecutor(fakeCLI(t, `printf '{"key":"%s","nested":"%s"}' "$ANTHROPIC_API_KEY" "$CLAUDECODE"`), time.Second)

	res := e.Execute(context.Background(), Params{TaskID: "t1", APIKey: "task-key", WorkspacePath: t.TempDir()})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	got := decode(t, res.Data)
	if got["key"] != "task-key" {
		t.Errorf("ANTHROPIC_API_KEY = %v, want task-key", got["key"])
	}
	if got["nested"] != "" {
		t.Errorf("CLAUDECODE leaked into child: %v", got["nested"])
	}
}

func TestProcessStartFailure(t *testing.T) {
	e := NewProcessExecutor([]string{filepath.Join(t.TempDir(), "missing")}, time.Second)

	res := e.Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir()})
	if res.Success || res.Error.Code != CodeProcess {
		t.Fatalf("expected PROCESS_ERROR, got %+v", res.Error)
	}
}

func waitTracked(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
