package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage submitted tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only tasks with this status"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of tasks"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a queued or running task",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
			{
				Name:      "purge",
				Usage:     "Remove the workspace and logs of a settled task",
				ArgsUsage: "<task_id>",
				Action:    runTasksPurge,
			},
			{
				Name:      "logs",
				Usage:     "Print task logs",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Stream logs until the task settles"},
				},
				Action: runTasksLogs,
			},
		},
		DefaultCommand: "list",
	}
}

func taskArg(cmd *cli.Command, sub string) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("usage: swarm tasks %s <task_id>", sub)
	}
	return id, nil
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	list, err := newClient(cmd).ListTasks(ctx, tasks.ListFilter{
		Status: tasks.Status(cmd.String("status")),
		Limit:  cmd.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMODE\tAGE\tPROMPT")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Mode, age(t.CreatedAt), truncate(t.Prompt, 50))
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id, err := taskArg(cmd, "show")
	if err != nil {
		return err
	}
	t, err := newClient(cmd).GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	printTask(os.Stdout, t)
	return nil
}

func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	id, err := taskArg(cmd, "cancel")
	if err != nil {
		return err
	}
	t, err := newClient(cmd).CancelTask(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if t.Status == tasks.StatusCancelled {
		fmt.Printf("Task %s cancelled.\n", id)
	} else {
		fmt.Printf("Task %s is %s.\n", id, t.Status)
	}
	return nil
}

func runTasksPurge(ctx context.Context, cmd *cli.Command) error {
	id, err := taskArg(cmd, "purge")
	if err != nil {
		return err
	}
	if _, err := newClient(cmd).PurgeTask(ctx, id); err != nil {
		return fmt.Errorf("purge task: %w", err)
	}
	fmt.Printf("Task %s purged.\n", id)
	return nil
}

func runTasksLogs(ctx context.Context, cmd *cli.Command) error {
	id, err := taskArg(cmd, "logs")
	if err != nil {
		return err
	}
	c := newClient(cmd)
	if cmd.Bool("follow") {
		status, err := c.FollowTaskLogs(ctx, id, func(chunk string) { fmt.Print(chunk) })
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\ntask %s %s\n", id, status)
		return nil
	}
	logs, err := c.GetTaskLogs(ctx, id)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	fmt.Print(logs.Logs)
	return nil
}
