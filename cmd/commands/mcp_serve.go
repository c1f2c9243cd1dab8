package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/mcp"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose the task tools of a swarm server as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Comma separated tool names or \"readonly\" (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the MCP transport
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	setupLogging("text", level)

	c := newClient(cmd)
	filter := cmd.StringArg("filter")
	slog.Debug("starting MCP server", "server", c.BaseURL(), "filter", filter)

	return mcp.ServeStdio(ctx, c, mcp.Options{
		Filter:  filter,
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Version: version,
	})
}
