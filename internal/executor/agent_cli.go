package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const maxStreamLine = 32 * 1024 * 1024

// CLIAgentClient runs agent sessions through the agent CLI in stream-json
// mode, one child process per session.
type CLIAgentClient struct {
	command   []string
	killGrace time.Duration
}

// NewCLIAgentClient creates a client spawning command (argv prefix).
func NewCLIAgentClient(command []string, killGrace time.Duration) *CLIAgentClient {
	if len(command) == 0 {
		command = []string{"claude"}
	}
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	return &CLIAgentClient{command: command, killGrace: killGrace}
}

// Query implements AgentClient.
func (c *CLIAgentClient) Query(ctx context.Context, q AgentQuery) (<-chan AgentEvent, error) {
	args := cliArgs(Params{
		Prompt:         q.Prompt,
		Model:          q.Model,
		PermissionMode: q.PermissionMode,
		MCPConfigPath:  q.MCPConfigPath,
		Schema:         q.Schema,
		Agents:         q.Agents,
	}, "stream-json")
	argv := append(append([]string{}, c.command...), args...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = q.Cwd
	cmd.Env = childEnv(q.APIKey, nil)
	configureProcess(cmd)
	cmd.Cancel = func() error {
		signalProcess(cmd, false)
		return nil
	}
	cmd.WaitDelay = c.killGrace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	ch := make(chan AgentEvent)
	go func() {
		defer close(ch)
		send := func(ev AgentEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sawResult := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var msg AgentMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				slog.Debug("skip agent output line", "error", err)
				continue
			}
			if msg.Type == MessageResult {
				sawResult = true
			}
			if !send(AgentEvent{Message: msg}) {
				break
			}
		}
		_, _ = io.Copy(io.Discard, stdout)

		err := cmd.Wait()
		if err != nil && !sawResult && ctx.Err() == nil {
			send(AgentEvent{Err: fmt.Errorf("agent exited: %w: %s", err, tail(stderr.String(), stderrLimit))})
		}
	}()
	return ch, nil
}
