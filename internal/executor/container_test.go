package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDocker struct {
	mu        sync.Mutex
	config    *container.Config
	host      *container.HostConfig
	exitCode  int64
	logs      string
	createErr error
	block     bool
	stopped   chan struct{}
	stopCalls int
	removes   int
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{stopped: make(chan struct{})}
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.config, f.host = cfg, host
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		if f.block {
			<-f.stopped
			statusCh <- container.WaitResponse{StatusCode: 137}
			return
		}
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}()
	return statusCh, errCh
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	if _, err := w.Write([]byte(f.logs)); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopCalls == 1 {
		close(f.stopped)
	}
	return nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	if f.removes > 1 {
		return errors.New("No such container")
	}
	return nil
}

func TestContainerResultFile(t *testing.T) {
	docker := newFakeDocker()
	docker.logs = "working...\n"
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "result.json"), []byte(`{"answer":42}`), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewContainerExecutor(docker, "", 0)
	var out strings.Builder
	res := e.Execute(context.Background(), Params{
		TaskID:        "t1",
		Prompt:        "do it",
		APIKey:        "key",
		WorkspacePath: ws,
		Schema:        []byte(`{"type":"object"}`),
		Timeout:       time.Minute,
		Model:         "opus",
		OnOutput:      func(c string) { out.WriteString(c) },
	})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if got := decode(t, res.Data); got["answer"] != float64(42) {
		t.Errorf("data = %v", got)
	}
	if res.Valid == nil || !*res.Valid {
		t.Error("expected valid=true when result.json exists")
	}
	if out.String() != "working...\n" || res.Logs != "working...\n" {
		t.Errorf("logs = %q, output = %q", res.Logs, out.String())
	}

	if docker.config.Image != DefaultImage || docker.config.WorkingDir != "/workspace" {
		t.Errorf("unexpected container config: %+v", docker.config)
	}
	env := strings.Join(docker.config.Env, "\n")
	for _, want := range []string{"ANTHROPIC_API_KEY=key", "TASK_PROMPT=do it", `TASK_SCHEMA={"type":"object"}`, "CLAUDE_MODEL=opus", "TASK_TIMEOUT=60000"} {
		if !strings.Contains(env, want) {
			t.Errorf("env missing %q: %v", want, docker.config.Env)
		}
	}
	if len(docker.host.Binds) != 1 || docker.host.Binds[0] != ws+":/workspace" {
		t.Errorf("binds = %v", docker.host.Binds)
	}
	if docker.removes == 0 {
		t.Error("expected container removed after completion")
	}
}

func TestContainerLogFallback(t *testing.T) {
	docker := newFakeDocker()
	docker.logs = "just text"

	res := NewContainerExecutor(docker, "img", 0).Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir()})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if got := decode(t, res.Data); got["output"] != "just text" {
		t.Errorf("data = %v", got)
	}
	if res.Valid == nil || *res.Valid {
		t.Error("expected valid=false for log fallback")
	}
}

func TestContainerNonZeroExit(t *testing.T) {
	docker := newFakeDocker()
	docker.exitCode = 2

	res := NewContainerExecutor(docker, "img", 0).Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir()})
	if res.Success || res.Error.Code != CodeContainer {
		t.Fatalf("expected CONTAINER_ERROR, got %+v", res.Error)
	}
	if res.Error.Message != "Container exited with code 2" {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestContainerCreateError(t *testing.T) {
	docker := newFakeDocker()
	docker.createErr = errors.New("no such image")

	res := NewContainerExecutor(docker, "img", 0).Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir()})
	if res.Success || res.Error.Code != CodeContainer {
		t.Fatalf("expected CONTAINER_ERROR, got %+v", res.Error)
	}
}

func TestContainerCancel(t *testing.T) {
	docker := newFakeDocker()
	docker.block = true
	e := NewContainerExecutor(docker, "img", time.Second)

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
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
	docker.mu.Lock()
	defer docker.mu.Unlock()
	if docker.stopCalls != 1 {
		t.Errorf("stop calls = %d, want 1", docker.stopCalls)
	}
}

func TestContainerTimeout(t *testing.T) {
	docker := newFakeDocker()
	docker.block = true

	res := NewContainerExecutor(docker, "img", time.Second).Execute(context.Background(), Params{TaskID: "t1", WorkspacePath: t.TempDir(), Timeout: 200 * time.Millisecond})
	if res.Success || res.Error.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res.Error)
	}
}

func TestContainerEnvTimeoutMillis(t *testing.T) {
	e := NewContainerExecutor(&fakeDocker{}, "img", time.Second)
	tests := []struct {
		timeout time.Duration
		want    string
	}{
		{90 * time.Second, "TASK_TIMEOUT=90000"},
		{1500 * time.Millisecond, "TASK_TIMEOUT=1500"},
		{0, ""},
	}
	for _, tt := range tests {
		var got string
		for _, kv := range e.env(Params{Prompt: "p", Timeout: tt.timeout}) {
			if strings.HasPrefix(kv, "TASK_TIMEOUT=") {
				got = kv
			}
		}
		if got != tt.want {
			t.Errorf("timeout %v: env = %q, want %q", tt.timeout, got, tt.want)
		}
	}
}
