// Package service holds the task orchestrator and the smaller services the
// gateway, the MCP server and the CLI are built on.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/executor"
	"github.com/dohr-michael/swarm/internal/profiles"
	"github.com/dohr-michael/swarm/internal/scheduler"
	"github.com/dohr-michael/swarm/internal/tasklog"
	"github.com/dohr-michael/swarm/internal/tasks"
	"github.com/dohr-michael/swarm/internal/workspace"
)

const (
	knowledgeSeparator = "\n\n---\n\n"
	learnInstructions  = "If you discovered an approach worth reusing while completing this task, " +
		"document it in a .knowledge/ directory in the current working directory: a skill.yaml " +
		"with title, description, tags and category, and a prompt.md template."
	learnTimeout = 5 * time.Minute
)

// Knowledge supplies prompt context from past work and mines finished
// workspaces for reusable entries.
type Knowledge interface {
	BuildContext(ctx context.Context, prompt string) (string, error)
	LearnFromWorkspace(ctx context.Context, taskID, workspacePath string) error
}

// TaskServiceConfig wires the orchestrator to its collaborators. Profiles,
// Archive, Bus and Knowledge are optional.
type TaskServiceConfig struct {
	Store          tasks.Store
	Scheduler      *scheduler.Scheduler
	Workspaces     *workspace.Manager
	Executors      map[tasks.Mode]executor.Executor
	Logs           *tasklog.Broadcaster
	Profiles       profiles.Store
	Archive        *tasklog.Archive
	Bus            *events.Bus
	Knowledge      Knowledge
	AutoLearn      bool
	DefaultMode    tasks.Mode
	DefaultTimeout time.Duration
	ArtifactIgnore []string
}

// TaskService owns the task lifecycle. Only it mutates task records.
type TaskService struct {
	cfg      TaskServiceConfig
	learning sync.WaitGroup
}

// NewTaskService creates the orchestrator.
func NewTaskService(cfg TaskServiceConfig) *TaskService {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = tasks.ModeSDK
	}
	if cfg.Logs == nil {
		cfg.Logs = tasklog.NewBroadcaster()
	}
	return &TaskService{cfg: cfg}
}

// CreateTask provisions the workspace, persists the record and hands the
// unit to the scheduler. It returns once the task is persisted as running;
// execution may still be waiting in the scheduler queue.
func (s *TaskService) CreateTask(ctx context.Context, in CreateTaskInput) (*tasks.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	mode := in.Mode
	if mode == "" {
		mode = s.cfg.DefaultMode
	}
	exec, ok := s.cfg.Executors[mode]
	if !ok {
		return nil, invalid("mode", "mode %q is not available on this server", mode)
	}

	var archive []byte
	if in.Files != nil && in.Files.Type == FilesZip {
		data, err := in.Files.zip()
		if err != nil {
			return nil, err
		}
		archive = data
	}

	servers, err := s.resolveServers(ctx, in)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir, err := s.cfg.Workspaces.Create(id)
	if err != nil {
		return nil, err
	}
	provisioned := false
	defer func() {
		if !provisioned {
			if err := s.cfg.Workspaces.Remove(dir); err != nil {
				slog.Warn("remove workspace", "task_id", id, "error", err)
			}
		}
	}()

	if in.Files != nil {
		switch in.Files.Type {
		case FilesZip:
			err = workspace.ExtractZip(dir, archive)
		case FilesGit:
			err = workspace.CloneGit(ctx, dir, in.Files.GitURL, in.Files.GitRef)
		}
		if err != nil {
			return nil, err
		}
	}

	var mcpConfig string
	if len(servers) > 0 {
		if mcpConfig, err = workspace.WriteMCPConfig(dir, servers); err != nil {
			return nil, err
		}
	}

	prompt := s.augmentPrompt(ctx, in.Prompt)

	timeout := time.Duration(in.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	task := &tasks.Task{
		ID:             id,
		Status:         tasks.StatusQueued,
		Prompt:         in.Prompt,
		Mode:           mode,
		Schema:         in.Schema,
		Timeout:        timeout.Milliseconds(),
		Model:          in.Model,
		PermissionMode: in.PermissionMode,
		WorkspacePath:  dir,
		Tags:           in.Tags,
		CreatedAt:      time.Now(),
	}
	if err := s.cfg.Store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	provisioned = true
	s.publish(events.NewTypedEvent(events.SourceService, id, events.TaskCreatedPayload{Mode: string(mode), Tags: in.Tags}))

	task, err = s.cfg.Store.Update(ctx, id, func(t *tasks.Task) error { return t.Start(time.Now()) })
	if errors.Is(err, tasks.ErrInvalidTransition) {
		// Cancelled before it was handed over; nothing to run.
		return s.cfg.Store.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}

	s.publish(events.NewTypedEvent(events.SourceService, id, events.TaskRunningPayload{Mode: string(mode)}))

	unit := &scheduler.Unit{
		TaskID: id,
		Params: executor.Params{
			TaskID:         id,
			Prompt:         prompt,
			APIKey:         in.APIKey,
			WorkspacePath:  dir,
			Schema:         in.Schema,
			Timeout:        timeout,
			Model:          in.Model,
			PermissionMode: in.PermissionMode,
			MCPConfigPath:  mcpConfig,
			Agents:         in.Agents,
			OnOutput:       func(chunk string) { s.cfg.Logs.Append(id, chunk) },
		},
		Executor:   exec,
		OnComplete: s.onComplete,
	}
	if err := s.cfg.Scheduler.Enqueue(unit); err != nil {
		failed, ferr := s.cfg.Store.Update(context.WithoutCancel(ctx), id, func(t *tasks.Task) error {
			return t.Fail(tasks.Error{Code: scheduler.CodeSchedulerError, Message: err.Error()}, 0, time.Now())
		})
		if ferr != nil {
			slog.Error("record enqueue failure", "task_id", id, "error", ferr)
		} else {
			s.publish(events.NewTypedEvent(events.SourceService, id, events.TaskFailedPayload{Code: failed.Error.Code, Message: failed.Error.Message}))
		}
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	// A cancel landing between the running update and Enqueue found no unit
	// to stop; stop it now.
	if current, err := s.cfg.Store.Get(ctx, id); err == nil && current.Status == tasks.StatusCancelled {
		stopped := s.cfg.Scheduler.Cancel(context.WithoutCancel(ctx), id)
		slog.Info("task cancelled before enqueue", "task_id", id, "unit_stopped", stopped)
		return current, nil
	}

	slog.Info("task created", "task_id", id, "mode", mode, "timeout", timeout)
	return task, nil
}

// resolveServers merges profile servers (in reference order) with inline
// servers, inline entries winning on name clashes. Profiles are looked up by
// name first, then by id.
func (s *TaskService) resolveServers(ctx context.Context, in CreateTaskInput) (map[string]workspace.MCPServer, error) {
	servers := make(map[string]workspace.MCPServer)
	for i, ref := range in.MCPProfiles {
		if s.cfg.Profiles == nil {
			return nil, profileNotFound(i, ref)
		}
		p, err := s.cfg.Profiles.GetByName(ctx, ref)
		if errors.Is(err, profiles.ErrNotFound) {
			p, err = s.cfg.Profiles.Get(ctx, ref)
		}
		if errors.Is(err, profiles.ErrNotFound) {
			return nil, profileNotFound(i, ref)
		}
		if err != nil {
			return nil, err
		}
		maps.Copy(servers, p.Servers)
	}
	maps.Copy(servers, in.MCPServers)
	return servers, nil
}

func (s *TaskService) augmentPrompt(ctx context.Context, prompt string) string {
	if s.cfg.Knowledge == nil {
		return prompt
	}
	extra, err := s.cfg.Knowledge.BuildContext(ctx, prompt)
	if err != nil {
		slog.Warn("build knowledge context", "error", err)
	} else if extra != "" {
		prompt = extra + knowledgeSeparator + prompt
	}
	if s.cfg.AutoLearn {
		prompt += knowledgeSeparator + learnInstructions
	}
	return prompt
}

// onComplete persists the settled result. A task cancelled in the
// meantime keeps its cancelled status.
func (s *TaskService) onComplete(taskID string, res executor.Result) {
	ctx := context.Background()
	now := time.Now()

	var event events.Event
	task, err := s.cfg.Store.Update(ctx, taskID, func(t *tasks.Task) error {
		if res.Success {
			valid := s.validity(t, res)
			event = events.NewTypedEvent(events.SourceService, taskID, events.TaskCompletedPayload{
				Valid: valid, DurationMs: res.Duration.Milliseconds(), Cost: res.Cost,
			})
			return t.Complete(tasks.Result{Data: res.Data, Valid: valid}, res.Duration, res.Cost, now)
		}
		e := tasks.Error{Code: "UNKNOWN", Message: "Unknown error"}
		if res.Error != nil {
			e = tasks.Error{Code: res.Error.Code, Message: res.Error.Message}
		}
		event = events.NewTypedEvent(events.SourceService, taskID, events.TaskFailedPayload{
			Code: e.Code, Message: e.Message, DurationMs: res.Duration.Milliseconds(),
		})
		return t.Fail(e, res.Duration, now)
	})
	switch {
	case errors.Is(err, tasks.ErrInvalidTransition):
		slog.Debug("late result ignored", "task_id", taskID, "success", res.Success)
		s.archiveLogs(taskID)
		return
	case err != nil:
		slog.Error("persist task result", "task_id", taskID, "error", err)
		return
	}

	slog.Info("task settled", "task_id", taskID, "status", task.Status, "duration", res.Duration)
	s.publish(event)
	s.archiveLogs(taskID)

	if task.Status == tasks.StatusCompleted && s.cfg.Knowledge != nil {
		s.learn(task)
	}
}

// validity combines the executor's verdict with the task schema, when any.
func (s *TaskService) validity(t *tasks.Task, res executor.Result) bool {
	valid := res.Valid == nil || *res.Valid
	if len(t.Schema) == 0 || len(res.Data) == 0 {
		return valid
	}
	ok, err := conforms(t.Schema, res.Data)
	if err != nil {
		slog.Debug("schema check", "task_id", t.ID, "error", err)
	}
	return valid && ok
}

func (s *TaskService) archiveLogs(taskID string) {
	if s.cfg.Archive == nil || !s.cfg.Logs.Has(taskID) {
		return
	}
	if err := s.cfg.Archive.Save(taskID, s.cfg.Logs.Get(taskID)); err != nil {
		slog.Warn("archive task logs", "task_id", taskID, "error", err)
	}
}

// learn runs detached; its outcome never touches the persisted task.
func (s *TaskService) learn(task *tasks.Task) {
	s.learning.Add(1)
	go func() {
		defer s.learning.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("knowledge learning panicked", "task_id", task.ID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), learnTimeout)
		defer cancel()
		if err := s.cfg.Knowledge.LearnFromWorkspace(ctx, task.ID, task.WorkspacePath); err != nil {
			slog.Warn("learn from workspace", "task_id", task.ID, "error", err)
		}
	}()
}

// Wait blocks until detached post-processing has finished.
func (s *TaskService) Wait() {
	s.learning.Wait()
}

// GetTask returns a task or tasks.ErrNotFound.
func (s *TaskService) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	return s.cfg.Store.Get(ctx, id)
}

// ListTasks returns tasks newest first.
func (s *TaskService) ListTasks(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	return s.cfg.Store.List(ctx, filter)
}

// CancelTask records the cancellation, then stops the unit wherever it is.
// Cancelling a settled task is a no-op that returns it unchanged.
func (s *TaskService) CancelTask(ctx context.Context, id string) (*tasks.Task, error) {
	task, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return task, nil
	}

	updated, err := s.cfg.Store.Update(ctx, id, func(t *tasks.Task) error { return t.Cancel(time.Now()) })
	if errors.Is(err, tasks.ErrInvalidTransition) {
		// Settled between the read and the update.
		return s.cfg.Store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	stopped := s.cfg.Scheduler.Cancel(ctx, id)
	slog.Info("task cancelled", "task_id", id, "unit_stopped", stopped)
	s.publish(events.NewTypedEvent(events.SourceService, id, events.TaskCancelledPayload{Reason: "cancelled by request"}))
	s.archiveLogs(id)
	return updated, nil
}

// ListArtifacts lists the files a task produced.
func (s *TaskService) ListArtifacts(ctx context.Context, id string) ([]workspace.Artifact, error) {
	task, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.WorkspacePath == "" {
		return []workspace.Artifact{}, nil
	}
	return workspace.ListArtifacts(task.WorkspacePath, s.cfg.ArtifactIgnore)
}

// ResolveArtifact maps rel to a path inside the task workspace.
func (s *TaskService) ResolveArtifact(ctx context.Context, id, rel string) (string, error) {
	task, err := s.cfg.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if task.WorkspacePath == "" {
		return "", ErrNoWorkspace
	}
	return workspace.Resolve(task.WorkspacePath, rel)
}

// SchedulerStatus exposes the scheduler counters.
func (s *TaskService) SchedulerStatus() scheduler.Status {
	return s.cfg.Scheduler.Status()
}

func (s *TaskService) publish(e events.Event) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(e)
	}
}
