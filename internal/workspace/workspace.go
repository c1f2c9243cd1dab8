// Package workspace provisions the private directory each task runs in and
// exposes the files it produces.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// MCPConfigFile is the per-workspace MCP server configuration read by the CLI.
const MCPConfigFile = ".claude.json"

// ErrOutsideRoot is returned when a relative path resolves outside the
// workspace.
var ErrOutsideRoot = errors.New("path escapes workspace root")

// DefaultIgnore lists workspace entries never reported as artifacts.
var DefaultIgnore = []string{
	MCPConfigFile,
	".git", ".git/**",
	"node_modules", "node_modules/**", "**/node_modules", "**/node_modules/**",
}

// Error wraps a provisioning failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "workspace " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Manager creates task workspaces under a root directory.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the directory holding all workspaces.
func (m *Manager) Root() string { return m.root }

// Create makes the exclusive workspace for a task.
func (m *Manager) Create(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return "", &Error{Op: "create", Err: fmt.Errorf("invalid task id %q", taskID)}
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", &Error{Op: "create", Err: err}
	}
	dir := filepath.Join(m.root, "task-"+taskID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", &Error{Op: "create", Err: err}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &Error{Op: "create", Err: err}
	}
	return abs, nil
}

// Remove deletes a workspace created by this manager.
func (m *Manager) Remove(dir string) error {
	root, err := filepath.Abs(m.root)
	if err != nil {
		return &Error{Op: "remove", Err: err}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return &Error{Op: "remove", Err: err}
	}
	if rel, err := filepath.Rel(root, abs); err != nil || rel == "." || escapes(rel) {
		return &Error{Op: "remove", Err: ErrOutsideRoot}
	}
	if err := os.RemoveAll(abs); err != nil {
		return &Error{Op: "remove", Err: err}
	}
	return nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// MCPServer is one entry of the MCP configuration file.
type MCPServer struct {
	Command string            `json:"command" yaml:"command" validate:"required"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// WriteMCPConfig writes servers to the workspace configuration file and
// returns its path.
func WriteMCPConfig(dir string, servers map[string]MCPServer) (string, error) {
	doc := struct {
		MCPServers map[string]MCPServer `json:"mcpServers"`
	}{MCPServers: servers}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", &Error{Op: "mcp config", Err: err}
	}
	path := filepath.Join(dir, MCPConfigFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", &Error{Op: "mcp config", Err: err}
	}
	return path, nil
}

// Artifact describes a file produced in a workspace.
type Artifact struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// ListArtifacts walks dir and returns regular files, sorted by path, skipping
// entries matching ignore (DefaultIgnore when nil). Paths use forward slashes.
func ListArtifacts(dir string, ignore []string) ([]Artifact, error) {
	if ignore == nil {
		ignore = DefaultIgnore
	}
	artifacts := []Artifact{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel, ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		artifacts = append(artifacts, Artifact{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "list artifacts", Err: err}
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return artifacts, nil
}

func ignored(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Resolve maps a client-supplied relative path to an absolute path inside
// dir, rejecting anything that escapes it.
func Resolve(dir, rel string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return "", ErrOutsideRoot
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if within, err := filepath.Rel(root, target); err != nil || escapes(within) {
		return "", ErrOutsideRoot
	}

	// Symlinks inside the workspace must not lead out of it either.
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return "", err
		}
		if within, err := filepath.Rel(realRoot, resolved); err != nil || escapes(within) {
			return "", ErrOutsideRoot
		}
	}
	return target, nil
}
