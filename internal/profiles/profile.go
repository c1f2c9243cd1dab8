// Package profiles stores named, reusable sets of MCP server definitions
// that tasks reference instead of repeating them inline.
package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/dohr-michael/swarm/internal/workspace"
)

var (
	ErrNotFound  = errors.New("profile not found")
	ErrDuplicate = errors.New("profile name already exists")
)

// Profile is a named set of MCP servers keyed by server name.
type Profile struct {
	ID        string                         `json:"id"`
	Name      string                         `json:"name"`
	Servers   map[string]workspace.MCPServer `json:"servers"`
	CreatedAt time.Time                      `json:"createdAt"`
}

// Store persists profiles.
type Store interface {
	// Create fails with ErrDuplicate when the name is taken.
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	GetByName(ctx context.Context, name string) (*Profile, error)
	// List returns profiles sorted by name.
	List(ctx context.Context) ([]*Profile, error)
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
}
