// Package knowledge keeps reusable prompt templates learned from finished
// task workspaces. Each entry is a directory holding skill.yaml, prompt.md
// and any supporting files; the directory tree is the source of truth.
package knowledge

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	skillFile  = "skill.yaml"
	promptFile = "prompt.md"
	codeDir    = "code"

	// WorkspaceDir is where a task leaves an entry for LearnFromWorkspace.
	WorkspaceDir = ".knowledge"
)

var (
	ErrNotFound  = errors.New("knowledge entry not found")
	ErrDuplicate = errors.New("knowledge entry already exists")
	ErrInvalid   = errors.New("invalid knowledge entry")
)

// Status controls whether an entry is offered as prompt context.
type Status string

const (
	StatusActive     Status = "active"
	StatusDraft      Status = "draft"
	StatusDeprecated Status = "deprecated"
)

func (s Status) valid() bool {
	return s == StatusActive || s == StatusDraft || s == StatusDeprecated
}

// Source records how an entry was created.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Rating is the running average of 1-5 votes.
type Rating struct {
	Average float64 `yaml:"average" json:"average"`
	Count   int     `yaml:"count" json:"count"`
}

// add folds score into the average, rounded to one decimal.
func (r Rating) add(score int) Rating {
	n := r.Count + 1
	avg := (r.Average*float64(r.Count) + float64(score)) / float64(n)
	return Rating{Average: math.Round(avg*10) / 10, Count: n}
}

// Entry is the content of skill.yaml plus the entry's location.
type Entry struct {
	ID           string    `yaml:"id" json:"id"`
	Title        string    `yaml:"title" json:"title"`
	Description  string    `yaml:"description" json:"description"`
	Tags         []string  `yaml:"tags,omitempty" json:"tags"`
	Category     string    `yaml:"category,omitempty" json:"category,omitempty"`
	Source       Source    `yaml:"source,omitempty" json:"source"`
	Status       Status    `yaml:"status,omitempty" json:"status"`
	OriginTaskID string    `yaml:"origin_task_id,omitempty" json:"originTaskId,omitempty"`
	Rating       Rating    `yaml:"rating" json:"rating"`
	CreatedAt    time.Time `yaml:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `yaml:"updated_at" json:"updatedAt"`

	Path string `yaml:"-" json:"path"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	return &c
}

// normalize fills the fields an older or hand-written skill.yaml may omit.
func (e *Entry) normalize(now time.Time) {
	if e.Status == "" {
		e.Status = StatusActive
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
}

func readEntry(dir string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, skillFile))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse %s: %w", skillFile, err)
	}
	return &e, nil
}

func writeEntry(dir string, e *Entry) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", skillFile, err)
	}
	tmp := filepath.Join(dir, skillFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, skillFile))
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a title into an entry id: lowercase, runs of other characters
// collapsed to "-", trimmed, at most 60 bytes.
func Slug(title string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	return s
}

// validID rejects ids that would leave the store directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
