package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/config"
	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/executor"
	"github.com/dohr-michael/swarm/internal/gateway"
	"github.com/dohr-michael/swarm/internal/heartbeat"
	"github.com/dohr-michael/swarm/internal/knowledge"
	"github.com/dohr-michael/swarm/internal/mcp"
	"github.com/dohr-michael/swarm/internal/profiles"
	"github.com/dohr-michael/swarm/internal/retention"
	"github.com/dohr-michael/swarm/internal/scheduler"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/storage"
	"github.com/dohr-michael/swarm/internal/tasklog"
	"github.com/dohr-michael/swarm/internal/tasks"
	"github.com/dohr-michael/swarm/internal/workspace"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the swarm server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides config)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides config)",
			},
			&cli.IntFlag{
				Name:  "max-concurrency",
				Usage: "Maximum number of tasks running at once (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}
	if cmd.IsSet("max-concurrency") {
		cfg.Scheduler.MaxConcurrency = cmd.Int("max-concurrency")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := parseLevel(cfg.Log.Level)
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	setupLogging(cfg.Log.Format, level)

	// Stores
	taskStore, profileStore, db, err := openStores(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if db != nil {
			db.Close()
		}
	}()

	// Event bus and its subscribers
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	eventLog := storage.NewEventLogger(filepath.Join(cfg.Storage.DataDir, "events"), bus)
	defer eventLog.Close()
	costs := storage.NewCostTracker(bus)
	defer costs.Close()

	recovered, err := tasks.RecoverOrphans(ctx, taskStore)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	for _, t := range recovered {
		bus.Publish(events.NewTypedEvent(events.SourceRecovery, t.ID, events.TaskFailedPayload{
			Code:    t.Error.Code,
			Message: t.Error.Message,
		}))
	}
	if len(recovered) > 0 {
		slog.Warn("interrupted tasks marked failed", "count", len(recovered))
	}

	executors, err := buildExecutors(cfg)
	if err != nil {
		return err
	}

	var archive *tasklog.Archive
	if cfg.Logs.ArchiveEnabled() {
		archive = tasklog.NewArchive(filepath.Join(cfg.Storage.DataDir, "logs"))
	}

	var kb *knowledge.Store
	if cfg.Knowledge.On() {
		kb, err = knowledge.Open(cfg.Knowledge.Dir, cfg.Knowledge.MaxContext)
		if err != nil {
			return err
		}
	}

	sched := scheduler.New(cfg.Scheduler.MaxConcurrency)
	svcCfg := service.TaskServiceConfig{
		Store:          taskStore,
		Scheduler:      sched,
		Workspaces:     workspace.NewManager(cfg.Storage.WorkspacesDir),
		Executors:      executors,
		Logs:           tasklog.NewBroadcaster(),
		Profiles:       profileStore,
		Archive:        archive,
		Bus:            bus,
		AutoLearn:      kb != nil && cfg.Knowledge.Learn(),
		DefaultMode:    tasks.Mode(cfg.Tasks.DefaultMode),
		DefaultTimeout: cfg.Tasks.DefaultTimeout.Duration(),
		ArtifactIgnore: cfg.Tasks.ArtifactIgnore,
	}
	if kb != nil {
		svcCfg.Knowledge = kb
	}
	svc := service.NewTaskService(svcCfg)

	server := gateway.NewServer(gateway.Options{
		Addr:      cfg.Gateway.Addr(),
		Tasks:     svc,
		Profiles:  service.NewProfileService(profileStore),
		Health:    service.NewHealthService(sched, costs),
		Bus:       bus,
		EventLog:  eventLog,
		Knowledge: kb,
		MCP:       mcp.NewHTTPHandler(svc, mcp.Options{APIKey: os.Getenv("ANTHROPIC_API_KEY"), Version: version}),
	})

	hb := heartbeat.NewWriter(filepath.Join(config.SwarmPath(), heartbeat.FileName), cfg.Gateway.Addr(), sched.Status, 0)
	hb.Start()
	defer hb.Stop()

	if maxAge := cfg.Retention.MaxAge.Duration(); maxAge > 0 {
		sweeper, err := retention.New(svc, cfg.Retention.Schedule, maxAge)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(c *config.Config) {
		OpenSecrets()
		logLevel.Set(parseLevel(c.Log.Level))
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(os.Stderr, "swarm listening on %s (max concurrency %d)\n", cfg.Gateway.Addr(), cfg.Scheduler.MaxConcurrency)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway shutdown", "error", err)
	}
	sched.Close()
	svc.Wait()
	return nil
}

// openStores opens the task and profile stores for the configured driver.
// The returned db is nil for the file driver.
func openStores(cfg config.StorageConfig) (tasks.Store, profiles.Store, *sql.DB, error) {
	switch cfg.Driver {
	case "file":
		return tasks.NewFileStore(filepath.Join(cfg.DataDir, "tasks")),
			profiles.NewFileStore(filepath.Join(cfg.DataDir, "profiles")), nil, nil
	default:
		db, err := storage.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		return tasks.NewSQLiteStore(db), profiles.NewSQLiteStore(db), db, nil
	}
}

func buildExecutors(cfg *config.Config) (map[tasks.Mode]executor.Executor, error) {
	out := make(map[tasks.Mode]executor.Executor, len(tasks.Modes))

	procCmd, err := executor.SplitCommand(cfg.Process.Command)
	if err != nil {
		return nil, fmt.Errorf("process.command: %w", err)
	}
	out[tasks.ModeProcess] = executor.NewProcessExecutor(procCmd, cfg.Process.KillGrace.Duration())

	docker, err := executor.NewDockerClient(cfg.Container.Host)
	if err != nil {
		slog.Warn("container mode unavailable", "error", err)
	} else {
		out[tasks.ModeContainer] = executor.NewContainerExecutor(docker, cfg.Container.Image, cfg.Container.StopTimeout.Duration())
	}

	var agent executor.AgentClient
	switch cfg.Agent.Driver {
	case "api":
		agent = executor.NewAPIAgentClient(cfg.Agent.BaseURL, cfg.Agent.Model, cfg.Agent.MaxTokens)
	default:
		agentCmd, err := executor.SplitCommand(cfg.Agent.Command)
		if err != nil {
			return nil, fmt.Errorf("agent.command: %w", err)
		}
		agent = executor.NewCLIAgentClient(agentCmd, cfg.Process.KillGrace.Duration())
	}
	out[tasks.ModeSDK] = executor.NewAgentExecutor(agent)
	return out, nil
}
