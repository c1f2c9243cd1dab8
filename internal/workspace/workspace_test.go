package workspace

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCreateAndRemove(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "workspaces"))

	dir, err := m.Create("abc")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if filepath.Base(dir) != "task-abc" {
		t.Errorf("dir = %s, want task-abc", dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o700 {
		t.Errorf("mode = %v, want 0700", info.Mode().Perm())
	}

	if _, err := m.Create("abc"); err == nil {
		t.Error("expected error creating an existing workspace")
	}
	if _, err := m.Create("../evil"); err == nil {
		t.Error("expected error for invalid task id")
	}

	if err := m.Remove(dir); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("expected workspace removed")
	}
	if err := m.Remove(t.TempDir()); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		rel string
		ok  bool
	}{
		{"out.txt", true},
		{"sub/dir/file.txt", true},
		{"sub/../file.txt", true},
		{"../secret", false},
		{"sub/../../secret", false},
		{"/etc/passwd", false},
	}
	for _, tt := range tests {
		got, err := Resolve(dir, tt.rel)
		if tt.ok && err != nil {
			t.Errorf("Resolve(%q) unexpected error %v", tt.rel, err)
		}
		if !tt.ok && !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Resolve(%q) = %q, want ErrOutsideRoot", tt.rel, got)
		}
	}
}

func TestResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(dir, "link"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot for escaping symlink, got %v", err)
	}
}

func TestListArtifacts(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"report.md":                   "# r",
		"out/data.json":               "{}",
		".claude.json":                "{}",
		".git/HEAD":                   "ref",
		"node_modules/x/index.js":     "js",
		"pkg/node_modules/y/index.js": "js",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ListArtifacts(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Path != "out/data.json" || got[1].Path != "report.md" {
		t.Fatalf("artifacts = %+v", got)
	}
	if got[1].Size != 3 {
		t.Errorf("size = %d, want 3", got[1].Size)
	}

	all, err := ListArtifacts(dir, []string{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(files) {
		t.Errorf("expected %d files without ignore patterns, got %d", len(files), len(all))
	}
}

func TestWriteMCPConfig(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteMCPConfig(dir, map[string]MCPServer{
		"fs": {Command: "npx", Args: []string{"-y", "server-fs"}, Env: map[string]string{"ROOT": "/"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != MCPConfigFile {
		t.Errorf("path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		MCPServers map[string]MCPServer `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.MCPServers["fs"].Command != "npx" || doc.MCPServers["fs"].Env["ROOT"] != "/" {
		t.Errorf("unexpected config: %s", data)
	}
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, map[string]string{"src/main.go": "package main", "README": "hi"})

	if err := ExtractZip(dir, data); err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "src", "main.go"))
	if err != nil || string(got) != "package main" {
		t.Errorf("extracted = %q, %v", got, err)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, map[string]string{"../escape.txt": "x"})

	err := ExtractZip(dir, data)
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); !os.IsNotExist(err) {
		t.Error("entry escaped the workspace")
	}
}

func TestExtractZipInvalid(t *testing.T) {
	var wsErr *Error
	if err := ExtractZip(t.TempDir(), []byte("not a zip")); !errors.As(err, &wsErr) {
		t.Errorf("expected *Error, got %v", err)
	}
}

func TestCloneGitValidation(t *testing.T) {
	if err := CloneGit(t.Context(), t.TempDir(), "", ""); err == nil {
		t.Error("expected error for empty url")
	}
	if err := CloneGit(t.Context(), t.TempDir(), "--upload-pack=evil", ""); err == nil {
		t.Error("expected error for option-like url")
	}
}
