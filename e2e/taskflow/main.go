// Command taskflow exercises the task lifecycle against a running swarm
// server: it submits a task, watches its lifecycle events over the websocket
// hub, follows its logs over SSE and checks the final record.
//
// Usage: taskflow -server http://127.0.0.1:3030 -mode process -prompt "say hi"
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dohr-michael/swarm/internal/client"
	"github.com/dohr-michael/swarm/internal/events"
	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:3030", "Swarm server URL")
	mode := flag.String("mode", "process", "Execution mode")
	prompt := flag.String("prompt", "Reply with the single word: pong", "Task prompt")
	apiKey := flag.String("api-key", os.Getenv("ANTHROPIC_API_KEY"), "API key passed to the task")
	cancelAfter := flag.Duration("cancel-after", 0, "Cancel the task after this delay and expect cancelled")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	in := service.CreateTaskInput{Prompt: *prompt, APIKey: *apiKey, Mode: tasks.Mode(*mode)}
	if err := run(ctx, client.New(*server), in, *cancelAfter); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, in service.CreateTaskInput, cancelAfter time.Duration) error {
	// ── Step 1: submit ──────────────────────────────────────────────────
	task, err := c.CreateTask(ctx, in)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("CHECK task created: %s (%s)\n", task.ID, task.Status)
	if task.Status != tasks.StatusRunning && task.Status != tasks.StatusQueued {
		return fmt.Errorf("new task is %s", task.Status)
	}

	// ── Step 2: watch lifecycle events in the background ────────────────
	stream, err := c.WatchEvents(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("watch events: %w", err)
	}
	defer stream.Close()
	terminal := make(chan events.EventType, 1)
	go func() {
		for {
			e, err := stream.Next()
			if err != nil {
				return
			}
			fmt.Printf("CHECK event: %s\n", e.Type)
			if events.IsTerminal(e.Type) {
				terminal <- e.Type
				return
			}
		}
	}()

	if cancelAfter > 0 {
		go func() {
			time.Sleep(cancelAfter)
			if _, err := c.CancelTask(ctx, task.ID); err != nil {
				fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
			}
		}()
	}

	// ── Step 3: follow logs until done ──────────────────────────────────
	var logs strings.Builder
	status, err := c.FollowTaskLogs(ctx, task.ID, func(chunk string) { logs.WriteString(chunk) })
	if err != nil {
		return fmt.Errorf("follow logs: %w", err)
	}
	fmt.Printf("CHECK log stream done: %s (%d bytes)\n", status, logs.Len())

	// ── Step 4: verify the settled record ───────────────────────────────
	final, err := c.GetTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if final.Status != status {
		return fmt.Errorf("record is %s but stream reported %s", final.Status, status)
	}
	if final.CompletedAt == nil || final.Duration == nil {
		return errors.New("settled task has no completion time or duration")
	}

	want := tasks.StatusCompleted
	if cancelAfter > 0 {
		want = tasks.StatusCancelled
	}
	if final.Status != want {
		detail := ""
		if final.Error != nil {
			detail = ": " + final.Error.Code + " " + final.Error.Message
		}
		return fmt.Errorf("task settled %s, want %s%s", final.Status, want, detail)
	}

	select {
	case et := <-terminal:
		fmt.Printf("CHECK terminal event received: %s\n", et)
	case <-time.After(5 * time.Second):
		return errors.New("no terminal lifecycle event received")
	}

	stored, err := c.GetTaskLogs(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	if stored.Logs != logs.String() {
		return fmt.Errorf("stored logs (%d bytes) differ from streamed logs (%d bytes)", len(stored.Logs), logs.Len())
	}

	fmt.Println("CHECK all flow checks passed")
	return nil
}
