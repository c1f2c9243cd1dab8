package workspace

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const maxArchiveEntry = 512 << 20

// ExtractZip unpacks a zip archive into dir. Entries that would land outside
// dir are rejected.
func ExtractZip(dir string, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &Error{Op: "extract", Err: err}
	}
	for _, f := range zr.File {
		if err := extractEntry(dir, f); err != nil {
			return &Error{Op: "extract", Err: err}
		}
	}
	return nil
}

func extractEntry(dir string, f *zip.File) error {
	target, err := Resolve(dir, f.Name)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if f.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%s: symlinks are not supported", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxArchiveEntry+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > maxArchiveEntry {
		return fmt.Errorf("%s: entry too large", f.Name)
	}
	return nil
}

// CloneGit shallow-clones url into dir, optionally at ref (branch or tag).
// dir must be empty.
func CloneGit(ctx context.Context, dir, url, ref string) error {
	if url == "" {
		return &Error{Op: "clone", Err: fmt.Errorf("missing repository url")}
	}
	if strings.HasPrefix(url, "-") || strings.HasPrefix(ref, "-") {
		return &Error{Op: "clone", Err: fmt.Errorf("invalid repository reference")}
	}
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, "--", url, ".")

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{Op: "clone", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}
