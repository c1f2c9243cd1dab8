package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/swarm/internal/profiles"
)

// ProfileService manages MCP server profiles.
type ProfileService struct {
	store profiles.Store
}

func NewProfileService(store profiles.Store) *ProfileService {
	return &ProfileService{store: store}
}

// Create validates and stores a new profile. Names are unique.
func (s *ProfileService) Create(ctx context.Context, in CreateProfileInput) (*profiles.Profile, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := &profiles.Profile{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Servers:   in.Servers,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	slog.Info("mcp profile created", "profile_id", p.ID, "name", p.Name, "servers", len(p.Servers))
	return p, nil
}

func (s *ProfileService) Get(ctx context.Context, id string) (*profiles.Profile, error) {
	return s.store.Get(ctx, id)
}

func (s *ProfileService) List(ctx context.Context) ([]*profiles.Profile, error) {
	return s.store.List(ctx)
}

// Delete removes a profile; unknown ids are not an error.
func (s *ProfileService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
