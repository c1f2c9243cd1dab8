// Package dirstore implements directory-per-entity file storage: each entity
// owns a subdirectory holding meta.json plus companion files.
package dirstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when an entity has no meta.json.
var ErrNotFound = errors.New("entity not found")

// DirStore provides the shared primitives used by the file-backed stores.
type DirStore struct {
	mu         sync.RWMutex
	baseDir    string
	entityName string // for error messages: "task", "profile"
}

// New creates a DirStore rooted at baseDir.
func New(baseDir, entityName string) *DirStore {
	return &DirStore{baseDir: baseDir, entityName: entityName}
}

// Lock acquires an exclusive lock.
func (ds *DirStore) Lock() { ds.mu.Lock() }

// Unlock releases an exclusive lock.
func (ds *DirStore) Unlock() { ds.mu.Unlock() }

// RLock acquires a shared read lock.
func (ds *DirStore) RLock() { ds.mu.RLock() }

// RUnlock releases a shared read lock.
func (ds *DirStore) RUnlock() { ds.mu.RUnlock() }

// Dir returns the directory path for a given entity ID.
func (ds *DirStore) Dir(id string) string {
	return filepath.Join(ds.baseDir, id)
}

// FilePath returns the path to a named file within an entity's directory.
func (ds *DirStore) FilePath(id, name string) string {
	return filepath.Join(ds.baseDir, id, name)
}

// EnsureDir creates the entity directory (and parents) if it doesn't exist.
func (ds *DirStore) EnsureDir(id string) error {
	if err := os.MkdirAll(ds.Dir(id), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", ds.entityName, err)
	}
	return nil
}

// RemoveDir removes the entity directory and all its contents.
func (ds *DirStore) RemoveDir(id string) error {
	if err := os.RemoveAll(ds.Dir(id)); err != nil {
		return fmt.Errorf("remove %s dir: %w", ds.entityName, err)
	}
	return nil
}

// ListDirs returns the names of all entity directories.
func (ds *DirStore) ListDirs() ([]string, error) {
	entries, err := os.ReadDir(ds.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s dirs: %w", ds.entityName, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// WriteMeta atomically writes v as the entity's meta.json.
func (ds *DirStore) WriteMeta(id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s meta: %w", ds.entityName, err)
	}
	return ds.WriteFileAtomic(id, "meta.json", data)
}

// ReadMeta reads meta.json into out. A missing entity yields ErrNotFound.
func (ds *DirStore) ReadMeta(id string, out any) error {
	data, err := os.ReadFile(ds.FilePath(id, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s %s: %w", ds.entityName, id, ErrNotFound)
		}
		return fmt.Errorf("read %s meta: %w", ds.entityName, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s meta: %w", ds.entityName, err)
	}
	return nil
}

// AppendJSONL appends a JSON-encoded line to filename in the entity's directory.
func (ds *DirStore) AppendJSONL(id, filename string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}

	f, err := os.OpenFile(ds.FilePath(id, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// LoadJSONL reads every line of filename, skipping lines that fail to decode.
func LoadJSONL[T any](ds *DirStore, id, filename string) ([]T, error) {
	f, err := os.Open(ds.FilePath(id, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	var items []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filename, err)
	}
	return items, nil
}

// WriteFileAtomic writes content to filename through a temp file and rename.
func (ds *DirStore) WriteFileAtomic(id, filename string, content []byte) error {
	path := ds.FilePath(id, filename)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write %s tmp: %w", filename, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filename, err)
	}
	return nil
}

// ReadFileContent returns nil, nil when the file does not exist.
func (ds *DirStore) ReadFileContent(id, filename string) ([]byte, error) {
	data, err := os.ReadFile(ds.FilePath(id, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return data, nil
}
