package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/config"
	"github.com/dohr-michael/swarm/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show server status",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	c := newClient(cmd)
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h, err := c.Health(reqCtx)
	if err == nil {
		fmt.Printf("Server:    %s (%s, uptime %s)\n", c.BaseURL(), h.Status, (time.Duration(h.Uptime) * time.Second).String())
		fmt.Printf("Scheduler: %d running, %d queued, max %d\n", h.Scheduler.Running, h.Scheduler.Queued, h.Scheduler.MaxConcurrency)
		if h.Usage != nil {
			fmt.Printf("Usage:     %d completed, %d billed, $%.4f\n", h.Usage.CompletedTasks, h.Usage.BilledTasks, h.Usage.TotalCost)
		}
		return nil
	}

	// Server unreachable: report what the local heartbeat says.
	liveness, hb, hbErr := heartbeat.Check(filepath.Join(config.SwarmPath(), heartbeat.FileName), 2*time.Minute)
	if hbErr != nil {
		return fmt.Errorf("check heartbeat: %w", hbErr)
	}
	switch liveness {
	case heartbeat.Alive:
		fmt.Printf("Server:    UNREACHABLE at %s, local process alive (PID %d on %s, uptime %s)\n",
			c.BaseURL(), hb.PID, hb.Addr, hb.Uptime())
	case heartbeat.Stale:
		fmt.Printf("Server:    STALE (PID %d, last heartbeat %s ago)\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	default:
		fmt.Println("Server:    NOT RUNNING")
	}
	return err
}
