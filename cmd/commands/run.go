package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/swarm/internal/service"
	"github.com/dohr-michael/swarm/internal/tasks"
)

const waitInterval = 2 * time.Second

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Submit a task to the server",
		ArgsUsage: "[prompt]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Task prompt"},
			&cli.StringFlag{
				Name:    "api-key",
				Aliases: []string{"k"},
				Usage:   "API key passed to the task",
				Sources: cli.EnvVars("ANTHROPIC_API_KEY"),
			},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Execution mode: process, container or sdk"},
			&cli.StringFlag{Name: "schema", Usage: "JSON schema for the result, inline or @file"},
			&cli.DurationFlag{Name: "timeout", Usage: "Task timeout (e.g. 10m)"},
			&cli.StringFlag{Name: "model", Usage: "Model override"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read the task definition from a YAML file"},
			&cli.StringSliceFlag{Name: "tag", Usage: "Tag as key=value (repeatable)"},
			&cli.StringSliceFlag{Name: "profile", Usage: "MCP profile name (repeatable)"},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the task to settle"},
			&cli.BoolFlag{Name: "follow", Usage: "Stream the task logs until it settles"},
		},
		Action: runRun,
	}
}

// taskFile is the YAML form of a task. Schema and agents are free-form
// objects re-encoded to JSON.
type taskFile struct {
	service.CreateTaskInput `yaml:",inline"`
	Schema                  map[string]any `yaml:"schema,omitempty"`
	Agents                  map[string]any `yaml:"agents,omitempty"`
}

func loadTaskFile(path string) (service.CreateTaskInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.CreateTaskInput{}, err
	}
	var f taskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return service.CreateTaskInput{}, fmt.Errorf("parse %s: %w", path, err)
	}
	in := f.CreateTaskInput
	if f.Schema != nil {
		if in.Schema, err = json.Marshal(f.Schema); err != nil {
			return in, fmt.Errorf("schema: %w", err)
		}
	}
	if f.Agents != nil {
		if in.Agents, err = json.Marshal(f.Agents); err != nil {
			return in, fmt.Errorf("agents: %w", err)
		}
	}
	return in, nil
}

func buildTaskInput(cmd *cli.Command) (service.CreateTaskInput, error) {
	var in service.CreateTaskInput
	if path := cmd.String("file"); path != "" {
		var err error
		if in, err = loadTaskFile(path); err != nil {
			return in, err
		}
	}

	if p := cmd.String("prompt"); p != "" {
		in.Prompt = p
	} else if arg := strings.Join(cmd.Args().Slice(), " "); arg != "" {
		in.Prompt = arg
	}
	if k := cmd.String("api-key"); k != "" && in.APIKey == "" {
		in.APIKey = k
	}
	if m := cmd.String("mode"); m != "" {
		in.Mode = tasks.Mode(m)
	}
	if d := cmd.Duration("timeout"); d > 0 {
		in.Timeout = d.Milliseconds()
	}
	if m := cmd.String("model"); m != "" {
		in.Model = m
	}
	if s := cmd.String("schema"); s != "" {
		raw, err := readInlineOrFile(s)
		if err != nil {
			return in, fmt.Errorf("schema: %w", err)
		}
		in.Schema = json.RawMessage(raw)
	}
	for _, kv := range cmd.StringSlice("tag") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return in, fmt.Errorf("tag %q: want key=value", kv)
		}
		if in.Tags == nil {
			in.Tags = map[string]string{}
		}
		in.Tags[k] = v
	}
	in.MCPProfiles = append(in.MCPProfiles, cmd.StringSlice("profile")...)

	if in.Prompt == "" {
		return in, errors.New("a prompt is required (--prompt, argument or --file)")
	}
	if in.APIKey == "" {
		key, err := promptSecret("API key: ")
		if err != nil {
			return in, err
		}
		in.APIKey = key
	}
	return in, nil
}

// readInlineOrFile returns s, or the content of the file when s is @path.
func readInlineOrFile(s string) ([]byte, error) {
	if path, ok := strings.CutPrefix(s, "@"); ok {
		return os.ReadFile(path)
	}
	return []byte(s), nil
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("an API key is required (--api-key or ANTHROPIC_API_KEY)")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	in, err := buildTaskInput(cmd)
	if err != nil {
		return err
	}

	c := newClient(cmd)
	t, err := c.CreateTask(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "task %s %s\n", t.ID, t.Status)

	switch {
	case cmd.Bool("follow"):
		status, err := c.FollowTaskLogs(ctx, t.ID, func(chunk string) { fmt.Print(chunk) })
		if err != nil {
			return err
		}
		if t, err = c.GetTask(ctx, t.ID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "task %s %s\n", t.ID, status)
	case cmd.Bool("wait"):
		if t, err = c.WaitTask(ctx, t.ID, waitInterval); err != nil {
			return err
		}
	default:
		fmt.Println(t.ID)
		return nil
	}

	printTask(os.Stdout, t)
	if t.Status != tasks.StatusCompleted {
		return fmt.Errorf("task %s %s", t.ID, t.Status)
	}
	return nil
}
