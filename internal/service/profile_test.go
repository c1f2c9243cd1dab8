package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dohr-michael/swarm/internal/profiles"
	"github.com/dohr-michael/swarm/internal/workspace"
)

func TestProfileService(t *testing.T) {
	svc := NewProfileService(profiles.NewFileStore(t.TempDir()))
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateProfileInput{
		Name:    "tools",
		Servers: map[string]workspace.MCPServer{"fs": {Command: "mcp-fs", Args: []string{"/data"}}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Errorf("Create returned %+v", p)
	}

	got, err := svc.Get(ctx, p.ID)
	if err != nil || got.Servers["fs"].Command != "mcp-fs" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	_, err = svc.Create(ctx, CreateProfileInput{
		Name:    "tools",
		Servers: map[string]workspace.MCPServer{"other": {Command: "x"}},
	})
	if !errors.Is(err, profiles.ErrDuplicate) {
		t.Errorf("duplicate name: got %v", err)
	}

	list, _ := svc.List(ctx)
	if len(list) != 1 {
		t.Errorf("List = %d profiles", len(list))
	}

	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, p.ID); !errors.Is(err, profiles.ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestProfileValidation(t *testing.T) {
	svc := NewProfileService(profiles.NewFileStore(t.TempDir()))
	tests := []struct {
		name  string
		input CreateProfileInput
		path  string
	}{
		{"missing name", CreateProfileInput{Servers: map[string]workspace.MCPServer{"fs": {Command: "x"}}}, "name"},
		{"no servers", CreateProfileInput{Name: "empty"}, "servers"},
		{"server without command", CreateProfileInput{Name: "n", Servers: map[string]workspace.MCPServer{"fs": {}}}, "servers[fs].command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if verr.Issues[0].Path != tt.path {
				t.Errorf("issues = %+v, want %q", verr.Issues, tt.path)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Issues: []Issue{
		{Path: "prompt", Message: "is required"},
		{Path: "mode", Message: "must be one of: process, container, sdk"},
	}}
	want := "invalid request: prompt: is required; mode: must be one of: process, container, sdk"
	if err.Error() != want {
		t.Errorf("Error() = %q", err.Error())
	}
}
