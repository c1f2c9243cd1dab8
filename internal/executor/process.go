package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const stderrLimit = 2000

// ProcessExecutor runs the agent CLI as a local child process, one per task,
// inside the task workspace.
type ProcessExecutor struct {
	command   []string
	killGrace time.Duration

	mu      sync.Mutex
	running map[string]*processRun
}

// NewProcessExecutor creates a process executor. command is the argv prefix
// (e.g. ["claude"]); task flags are appended to it. killGrace is the delay
// between SIGTERM and SIGKILL.
func NewProcessExecutor(command []string, killGrace time.Duration) *ProcessExecutor {
	if len(command) == 0 {
		command = []string{"claude"}
	}
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	return &ProcessExecutor{
		command:   command,
		killGrace: killGrace,
		running:   make(map[string]*processRun),
	}
}

type processRun struct {
	cmd       *exec.Cmd
	grace     time.Duration
	cancelled atomic.Bool
	stopOnce  sync.Once
	exited    chan struct{}
}

// stop sends SIGTERM to the process group, then SIGKILL after the grace
// period if the child is still alive.
func (r *processRun) stop() {
	r.stopOnce.Do(func() {
		signalProcess(r.cmd, false)
		go func() {
			select {
			case <-r.exited:
			case <-time.After(r.grace):
				signalProcess(r.cmd, true)
			}
		}()
	})
}

// Execute implements Executor.
func (e *ProcessExecutor) Execute(ctx context.Context, p Params) Result {
	start := time.Now()

	argv := append(append([]string{}, e.command...), cliArgs(p, "json")...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = p.WorkspacePath
	cmd.Env = childEnv(p.APIKey, nil)
	configureProcess(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Failure(CodeProcess, fmt.Sprintf("stdout pipe: %v", err), "", time.Since(start))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Failure(CodeProcess, fmt.Sprintf("stderr pipe: %v", err), "", time.Since(start))
	}

	if err := cmd.Start(); err != nil {
		return Failure(CodeProcess, fmt.Sprintf("start %s: %v", argv[0], err), "", time.Since(start))
	}
	slog.Debug("process started", "task_id", p.TaskID, "pid", cmd.Process.Pid, "command", argv[0])

	run := &processRun{cmd: cmd, grace: e.killGrace, exited: make(chan struct{})}
	e.track(p.TaskID, run)
	defer e.untrack(p.TaskID, run)

	if p.Timeout > 0 {
		timer := time.AfterFunc(p.Timeout, run.stop)
		defer timer.Stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			run.cancelled.Store(true)
			run.stop()
		case <-run.exited:
		}
	}()

	var (
		logMu          sync.Mutex
		logs           strings.Builder
		stdout, stderr bytes.Buffer
		wg             sync.WaitGroup
	)
	pump := func(r io.Reader, own *bytes.Buffer) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := string(buf[:n])
				logMu.Lock()
				own.WriteString(chunk)
				logs.WriteString(chunk)
				logMu.Unlock()
				p.emit(chunk)
			}
			if err != nil {
				return
			}
		}
	}
	wg.Add(2)
	go pump(stdoutPipe, &stdout)
	go pump(stderrPipe, &stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	close(run.exited)
	elapsed := time.Since(start)

	if waitErr == nil {
		data, cost := decodeOutput(stdout.String())
		return Result{
			Success:   true,
			Data:      data,
			Valid:     boolPtr(true),
			Logs:      logs.String(),
			Artifacts: artifactNames(p.WorkspacePath),
			Duration:  elapsed,
			Cost:      cost,
		}
	}

	if IsTimeout(elapsed, p.Timeout) {
		return abortFailure(elapsed, p.Timeout, logs.String())
	}
	if run.cancelled.Load() {
		return Failure(CodeCancelled, "Task was cancelled", logs.String(), elapsed)
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	msg := fmt.Sprintf("Process exited with code %d", code)
	if s := strings.TrimSpace(stderr.String()); s != "" {
		msg += ": " + tail(s, stderrLimit)
	}
	return Failure(CodeProcess, msg, logs.String(), elapsed)
}

// Cancel implements Executor.
func (e *ProcessExecutor) Cancel(_ context.Context, taskID string) error {
	e.mu.Lock()
	run, ok := e.running[taskID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	run.cancelled.Store(true)
	run.stop()
	return nil
}

func (e *ProcessExecutor) track(taskID string, run *processRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[taskID] = run
}

func (e *ProcessExecutor) untrack(taskID string, run *processRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[taskID] == run {
		delete(e.running, taskID)
	}
}
