package executor

import (
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// nestedSessionVars mark a process as running inside an agent session; the
// child CLI refuses to start or misbehaves when it inherits them.
var nestedSessionVars = []string{"CLAUDECODE", "CLAUDE_CODE_ENTRYPOINT"}

// childEnv returns the parent environment without nested-session markers,
// with the task credentials and extra variables appended.
func childEnv(apiKey string, extra map[string]string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(extra)+1)
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if isNestedSessionVar(key) || key == "ANTHROPIC_API_KEY" {
			continue
		}
		if _, overridden := extra[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	if apiKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+apiKey)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func isNestedSessionVar(key string) bool {
	for _, v := range nestedSessionVars {
		if key == v {
			return true
		}
	}
	return false
}

// SplitCommand turns a configured command line into argv using shell
// quoting rules. Environment references are expanded.
func SplitCommand(cmdline string) ([]string, error) {
	fields, err := shell.Fields(cmdline, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", cmdline, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return fields, nil
}

// cliArgs builds the flags understood by the agent CLI for a task.
func cliArgs(p Params, outputFormat string) []string {
	args := []string{"-p", p.Prompt, "--output-format", outputFormat}
	if outputFormat == "stream-json" {
		args = append(args, "--verbose")
	}
	if p.Model != "" {
		args = append(args, "--model", p.Model)
	}
	mode := p.PermissionMode
	if mode == "" {
		mode = "bypassPermissions"
	}
	args = append(args, "--permission-mode", mode)
	if mode == "bypassPermissions" {
		args = append(args, "--dangerously-skip-permissions")
	}
	if len(p.Schema) > 0 {
		args = append(args, "--json-schema", string(p.Schema))
	}
	if p.MCPConfigPath != "" {
		args = append(args, "--mcp-config", p.MCPConfigPath)
	}
	if len(p.Agents) > 0 {
		args = append(args, "--agents", string(p.Agents))
	}
	return args
}

// tail keeps the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
