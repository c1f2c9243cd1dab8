package profiles

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dohr-michael/swarm/internal/storage/dirstore"
)

// FileStore persists each profile as a directory holding meta.json.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.New(baseDir, "profile")}
}

func (fs *FileStore) Create(_ context.Context, p *Profile) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	all, err := fs.list()
	if err != nil {
		return err
	}
	for _, existing := range all {
		if existing.Name == p.Name {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
		}
	}
	if err := fs.ds.EnsureDir(p.ID); err != nil {
		return err
	}
	return fs.ds.WriteMeta(p.ID, p)
}

func (fs *FileStore) Get(_ context.Context, id string) (*Profile, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	var p Profile
	if err := fs.ds.ReadMeta(id, &p); err != nil {
		if errors.Is(err, dirstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (fs *FileStore) GetByName(_ context.Context, name string) (*Profile, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	all, err := fs.list()
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (fs *FileStore) List(_ context.Context) ([]*Profile, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()
	return fs.list()
}

func (fs *FileStore) list() ([]*Profile, error) {
	ids, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}
	result := []*Profile{}
	for _, id := range ids {
		var p Profile
		if err := fs.ds.ReadMeta(id, &p); err != nil {
			continue
		}
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (fs *FileStore) Delete(_ context.Context, id string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()
	return fs.ds.RemoveDir(id)
}
