package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// DefaultImage is the runner image executed for container tasks.
	DefaultImage = "claude-swarm-runner:latest"

	containerWorkdir = "/workspace"
	resultFile       = "result.json"
)

// ContainerRuntime is the subset of the Docker API the container executor
// needs. *client.Client satisfies it.
type ContainerRuntime interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// NewDockerClient connects to the daemon from the environment, or host when
// set, negotiating the API version.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return cli, nil
}

// ContainerExecutor runs each task in a fresh container with the workspace
// bind-mounted at /workspace.
type ContainerExecutor struct {
	docker      ContainerRuntime
	image       string
	stopTimeout time.Duration

	mu      sync.Mutex
	running map[string]*containerRun
}

type containerRun struct {
	id       string
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewContainerExecutor creates a container executor.
func NewContainerExecutor(docker ContainerRuntime, image string, stopTimeout time.Duration) *ContainerExecutor {
	if image == "" {
		image = DefaultImage
	}
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return &ContainerExecutor{
		docker:      docker,
		image:       image,
		stopTimeout: stopTimeout,
		running:     make(map[string]*containerRun),
	}
}

func (e *ContainerExecutor) env(p Params) []string {
	env := []string{
		"ANTHROPIC_API_KEY=" + p.APIKey,
		"TASK_PROMPT=" + p.Prompt,
	}
	if len(p.Schema) > 0 {
		env = append(env, "TASK_SCHEMA="+string(p.Schema))
	}
	if p.Model != "" {
		env = append(env, "CLAUDE_MODEL="+p.Model)
	}
	if p.Timeout > 0 {
		env = append(env, "TASK_TIMEOUT="+strconv.FormatInt(p.Timeout.Milliseconds(), 10))
	}
	if p.PermissionMode != "" {
		env = append(env, "TASK_PERMISSION_MODE="+p.PermissionMode)
	}
	return env
}

// Execute implements Executor.
func (e *ContainerExecutor) Execute(ctx context.Context, p Params) Result {
	start := time.Now()
	bg := context.WithoutCancel(ctx)

	created, err := e.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      e.image,
			Env:        e.env(p),
			WorkingDir: containerWorkdir,
			Labels:     map[string]string{"swarm.task_id": p.TaskID},
		},
		&container.HostConfig{
			Binds: []string{p.WorkspacePath + ":" + containerWorkdir},
		},
		nil, nil, "swarm-"+p.TaskID)
	if err != nil {
		return Failure(CodeContainer, fmt.Sprintf("create container: %v", err), "", time.Since(start))
	}

	run := &containerRun{id: created.ID}
	e.track(p.TaskID, run)
	defer func() {
		e.untrack(p.TaskID, run)
		_ = e.docker.ContainerRemove(bg, run.id, container.RemoveOptions{Force: true})
	}()

	if err := e.docker.ContainerStart(ctx, run.id, container.StartOptions{}); err != nil {
		return Failure(CodeContainer, fmt.Sprintf("start container: %v", err), "", time.Since(start))
	}
	slog.Debug("container started", "task_id", p.TaskID, "container", shortID(run.id), "image", e.image)

	done := make(chan struct{})
	defer close(done)
	if p.Timeout > 0 {
		timer := time.AfterFunc(p.Timeout, func() { e.stop(bg, run) })
		defer timer.Stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			e.stop(bg, run)
		case <-done:
		}
	}()

	exitCode, waitErr := e.wait(bg, run.id)
	logs := e.collectLogs(bg, run.id)
	p.emit(logs)
	elapsed := time.Since(start)

	if run.stopped.Load() {
		return abortFailure(elapsed, p.Timeout, logs)
	}
	if waitErr != nil {
		return Failure(CodeContainer, fmt.Sprintf("wait container: %v", waitErr), logs, elapsed)
	}
	if exitCode != 0 {
		if IsTimeout(elapsed, p.Timeout) {
			return abortFailure(elapsed, p.Timeout, logs)
		}
		return Failure(CodeContainer, fmt.Sprintf("Container exited with code %d", exitCode), logs, elapsed)
	}

	data, valid := readResultFile(p.WorkspacePath, logs)
	return Result{
		Success:   true,
		Data:      data,
		Valid:     boolPtr(valid),
		Logs:      logs,
		Artifacts: artifactNames(p.WorkspacePath),
		Duration:  elapsed,
	}
}

func (e *ContainerExecutor) wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := e.docker.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return st.StatusCode, fmt.Errorf("%s", st.Error.Message)
		}
		return st.StatusCode, nil
	case err := <-errCh:
		return -1, err
	}
}

func (e *ContainerExecutor) collectLogs(ctx context.Context, id string) string {
	rc, err := e.docker.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		slog.Debug("container logs unavailable", "container", shortID(id), "error", err)
		return ""
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		slog.Debug("demux container logs", "container", shortID(id), "error", err)
	}
	return buf.String()
}

// readResultFile prefers result.json written by the runner; otherwise the
// log is wrapped as {"output": logs} and flagged invalid.
func readResultFile(workspacePath, logs string) (json.RawMessage, bool) {
	data, err := os.ReadFile(filepath.Join(workspacePath, resultFile))
	if err == nil && json.Valid(data) {
		return json.RawMessage(bytes.TrimSpace(data)), true
	}
	fallback, _ := json.Marshal(map[string]string{"output": logs})
	return fallback, false
}

// stop halts then removes the container. Errors from a container that is
// already gone are ignored.
func (e *ContainerExecutor) stop(ctx context.Context, run *containerRun) {
	run.stopOnce.Do(func() {
		run.stopped.Store(true)
		secs := int(e.stopTimeout.Seconds())
		if err := e.docker.ContainerStop(ctx, run.id, container.StopOptions{Timeout: &secs}); err != nil {
			slog.Debug("stop container", "container", shortID(run.id), "error", err)
		}
		if err := e.docker.ContainerRemove(ctx, run.id, container.RemoveOptions{Force: true}); err != nil {
			slog.Debug("remove container", "container", shortID(run.id), "error", err)
		}
	})
}

// Cancel implements Executor.
func (e *ContainerExecutor) Cancel(ctx context.Context, taskID string) error {
	e.mu.Lock()
	run, ok := e.running[taskID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	e.stop(context.WithoutCancel(ctx), run)
	return nil
}

func (e *ContainerExecutor) track(taskID string, run *containerRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[taskID] = run
}

func (e *ContainerExecutor) untrack(taskID string, run *containerRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[taskID] == run {
		delete(e.running, taskID)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
