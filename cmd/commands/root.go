// Package commands implements the swarm CLI.
package commands

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/client"
	"github.com/dohr-michael/swarm/internal/config"
)

var version = "dev"

// logLevel is shared by the installed handler so serve can change it on reload.
var logLevel = new(slog.LevelVar)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "swarm",
		Usage:   "Run agent tasks on isolated workspaces",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Address of the swarm server",
				Value:   "http://localhost:3030",
				Sources: cli.EnvVars("SWARM_SERVER"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelWarn
			if cmd.Bool("debug") {
				level = slog.LevelDebug
			}
			setupLogging("text", level)
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewRunCommand(),
			NewTasksCommand(),
			NewProfilesCommand(),
			NewWatchCommand(),
			NewKnowledgeCommand(),
			NewSecretsCommand(),
			NewStatusCommand(),
			NewMCPServeCommand(),
		},
	}
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(format string, level slog.Level) {
	logLevel.Set(level)
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func newClient(cmd *cli.Command) *client.Client {
	return client.New(cmd.String("server"))
}
