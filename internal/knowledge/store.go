package knowledge

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Sort orders List results.
type Sort string

const (
	SortRating Sort = "rating"
	SortDate   Sort = "date"
	SortTitle  Sort = "title"
)

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Status   Status
	Category string
	Tag      string
	Sort     Sort
}

// CreateInput is a manually authored entry.
type CreateInput struct {
	Title          string            `json:"title" yaml:"title"`
	Description    string            `json:"description" yaml:"description"`
	Tags           []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Category       string            `json:"category,omitempty" yaml:"category,omitempty"`
	PromptTemplate string            `json:"promptTemplate" yaml:"promptTemplate"`
	Code           map[string]string `json:"code,omitempty" yaml:"code,omitempty"` // file name -> content
}

// UpdateInput changes the metadata of an entry. Nil fields are kept.
type UpdateInput struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Status      *Status  `json:"status,omitempty"`
}

// Store indexes the entry directories under one root.
type Store struct {
	dir        string
	maxContext int

	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// Open creates dir if needed and loads every entry in it. maxContext bounds
// the entries BuildContext lists; zero disables context.
func Open(dir string, maxContext int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge dir: %w", err)
	}
	s := &Store{dir: dir, maxContext: maxContext, entries: map[string]*Entry{}, now: time.Now}
	if _, err := s.Sync(); err != nil {
		return nil, err
	}
	return s, nil
}

// Sync rescans the directory and returns the number of entries found.
// Directories without a readable skill.yaml are skipped.
func (s *Store) Sync() (int, error) {
	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read knowledge dir: %w", err)
	}

	found := make(map[string]*Entry, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, d.Name())
		e, err := readEntry(path)
		if err != nil {
			slog.Debug("skip knowledge dir", "path", path, "error", err)
			continue
		}
		e.ID = d.Name()
		e.Path = path
		e.normalize(s.now())
		found[e.ID] = e
	}

	s.mu.Lock()
	s.entries = found
	s.mu.Unlock()
	return len(found), nil
}

func (s *Store) List(filter ListFilter) []*Entry {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if filter.Tag != "" && !slices.Contains(e.Tags, filter.Tag) {
			continue
		}
		out = append(out, e.clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Entry) int {
		switch filter.Sort {
		case SortRating:
			if c := cmp.Compare(b.Rating.Average, a.Rating.Average); c != 0 {
				return c
			}
		case SortTitle:
			if c := cmp.Compare(a.Title, b.Title); c != 0 {
				return c
			}
		default:
			if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Store) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

// Prompt returns the prompt template of an entry.
func (s *Store) Prompt(id string) (string, error) {
	e, err := s.Get(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(e.Path, promptFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Create writes a manual entry whose id is the slug of its title.
func (s *Store) Create(in CreateInput) (*Entry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	id := Slug(in.Title)
	if id == "" {
		return nil, fmt.Errorf("%w: title has no usable characters", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	now := s.now()
	e := &Entry{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Tags:        in.Tags,
		Category:    in.Category,
		Source:      SourceManual,
		CreatedAt:   now,
		UpdatedAt:   now,
		Path:        dir,
	}
	e.normalize(now)

	if err := os.WriteFile(filepath.Join(dir, promptFile), []byte(in.PromptTemplate), 0o644); err != nil {
		return nil, err
	}
	for name, content := range in.Code {
		if !validID(name) {
			return nil, fmt.Errorf("%w: code file name %q", ErrInvalid, name)
		}
		if err := os.MkdirAll(filepath.Join(dir, codeDir), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, codeDir, name), []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	if err := writeEntry(dir, e); err != nil {
		return nil, err
	}
	s.entries[id] = e
	return e.clone(), nil
}

func (in CreateInput) validate() error {
	var missing []string
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(in.PromptTemplate) == "" {
		missing = append(missing, "promptTemplate")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Store) Update(id string, in UpdateInput) (*Entry, error) {
	if in.Status != nil && !in.Status.valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, *in.Status)
	}
	return s.mutate(id, func(e *Entry) {
		if in.Title != nil {
			e.Title = *in.Title
		}
		if in.Description != nil {
			e.Description = *in.Description
		}
		if in.Tags != nil {
			e.Tags = in.Tags
		}
		if in.Category != nil {
			e.Category = *in.Category
		}
		if in.Status != nil {
			e.Status = *in.Status
		}
	})
}

// Rate adds a 1-5 vote to the entry's running average.
func (s *Store) Rate(id string, score int) (Rating, error) {
	if score < 1 || score > 5 {
		return Rating{}, fmt.Errorf("%w: score must be between 1 and 5", ErrInvalid)
	}
	e, err := s.mutate(id, func(e *Entry) { e.Rating = e.Rating.add(score) })
	if err != nil {
		return Rating{}, err
	}
	return e.Rating, nil
}

func (s *Store) mutate(id string, fn func(*Entry)) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.clone()
	fn(next)
	next.UpdatedAt = s.now()
	if err := writeEntry(next.Path, next); err != nil {
		return nil, err
	}
	s.entries[id] = next
	return next.clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if err := os.RemoveAll(e.Path); err != nil {
		return err
	}
	delete(s.entries, id)
	return nil
}

// BuildContext lists the best rated active entries so an agent can reuse
// them. It returns "" when there is nothing to offer.
func (s *Store) BuildContext(_ context.Context, _ string) (string, error) {
	if s.maxContext <= 0 {
		return "", nil
	}
	entries := s.List(ListFilter{Status: StatusActive, Sort: SortRating})
	if len(entries) > s.maxContext {
		entries = entries[:s.maxContext]
	}
	if len(entries) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Available knowledge entries (use if relevant):")
	for i, e := range entries {
		rating := ""
		if e.Rating.Average > 0 {
			rating = fmt.Sprintf(" (★%g)", e.Rating.Average)
		}
		fmt.Fprintf(&b, "\n%d. [%s]%s - %s\n   Folder: %s", i+1, e.ID, rating, e.Description, e.Path)
	}
	return b.String(), nil
}

// LearnFromWorkspace imports the .knowledge directory a task left in its
// workspace. A workspace without one is not an error. An existing entry with
// the same id is replaced, keeping its rating and creation time.
func (s *Store) LearnFromWorkspace(ctx context.Context, taskID, workspacePath string) error {
	src := filepath.Join(workspacePath, WorkspaceDir)
	learned, err := readEntry(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if learned.ID == "" {
		learned.ID = Slug(learned.Title)
	}
	if !validID(learned.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalid, learned.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dest := filepath.Join(s.dir, learned.ID)
	now := s.now()
	if prev, ok := s.entries[learned.ID]; ok {
		learned.Rating = prev.Rating
		learned.CreatedAt = prev.CreatedAt
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
	}
	if err := copyDir(ctx, src, dest); err != nil {
		return fmt.Errorf("copy %s: %w", WorkspaceDir, err)
	}

	learned.Source = SourceAuto
	learned.OriginTaskID = taskID
	learned.Path = dest
	learned.UpdatedAt = now
	learned.normalize(now)
	if err := writeEntry(dest, learned); err != nil {
		return err
	}
	s.entries[learned.ID] = learned
	slog.Info("knowledge learned", "id", learned.ID, "task_id", taskID)
	return nil
}

func copyDir(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// symlinks and devices stay behind
			return nil
		}
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
