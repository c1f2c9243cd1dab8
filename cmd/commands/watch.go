package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/events"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Aliases:   []string{"events"},
		Usage:     "Stream task lifecycle events",
		ArgsUsage: "[task_id...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print raw events as JSON lines"},
			&cli.BoolFlag{Name: "until-settled", Usage: "Exit once every watched task has settled"},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if cmd.Bool("until-settled") && len(ids) == 0 {
		return errors.New("--until-settled needs at least one task id")
	}

	c := newClient(cmd)
	stream, err := c.WatchEvents(ctx, ids...)
	if err != nil {
		return err
	}
	defer stream.Close()

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	if cmd.Bool("until-settled") {
		// Subscribed first, so a task settling now is seen either here or on the stream.
		for _, id := range ids {
			t, err := c.GetTask(ctx, id)
			if err != nil {
				return fmt.Errorf("get task %s: %w", id, err)
			}
			if t.Status.Terminal() {
				fmt.Printf("%s already %s\n", id, t.Status)
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			return nil
		}
	}
	enc := json.NewEncoder(os.Stdout)

	for {
		e, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if cmd.Bool("json") {
			if err := enc.Encode(e); err != nil {
				return err
			}
		} else {
			fmt.Printf("%s  %-16s %s%s\n", e.Timestamp.Local().Format(timeFormat), e.Type, e.TaskID, describeEvent(e))
		}

		if cmd.Bool("until-settled") && events.IsTerminal(e.Type) {
			delete(pending, e.TaskID)
			if len(pending) == 0 {
				return nil
			}
		}
	}
}

func describeEvent(e events.Event) string {
	switch e.Type {
	case events.EventTaskCompleted:
		if p, ok := events.ExtractPayload[events.TaskCompletedPayload](e); ok {
			return fmt.Sprintf("  valid=%t", p.Valid)
		}
	case events.EventTaskFailed:
		if p, ok := events.ExtractPayload[events.TaskFailedPayload](e); ok {
			return fmt.Sprintf("  %s: %s", p.Code, p.Message)
		}
	}
	return ""
}
