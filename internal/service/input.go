package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/swarm/internal/tasks"
	"github.com/dohr-michael/swarm/internal/workspace"
)

// File source types.
const (
	FilesZip = "zip"
	FilesGit = "git"
)

// CreateTaskInput is the request to create a task.
type CreateTaskInput struct {
	Prompt         string                         `json:"prompt" yaml:"prompt" validate:"required"`
	APIKey         string                         `json:"apiKey" yaml:"apiKey" validate:"required"`
	Schema         json.RawMessage                `json:"schema,omitempty" yaml:"-"`
	Mode           tasks.Mode                     `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=process container sdk"`
	Timeout        int64                          `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,gt=0"` // ms
	Model          string                         `json:"model,omitempty" yaml:"model,omitempty"`
	PermissionMode string                         `json:"permissionMode,omitempty" yaml:"permissionMode,omitempty"`
	Files          *FilesInput                    `json:"files,omitempty" yaml:"files,omitempty"`
	MCPServers     map[string]workspace.MCPServer `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty" validate:"omitempty,dive"`
	MCPProfiles    []string                       `json:"mcpProfiles,omitempty" yaml:"mcpProfiles,omitempty" validate:"omitempty,dive,required"`
	Agents         json.RawMessage                `json:"agents,omitempty" yaml:"-"`
	Tags           map[string]string              `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// FilesInput seeds the workspace from an archive or a git repository.
type FilesInput struct {
	Type      string `json:"type" yaml:"type" validate:"required,oneof=zip git"`
	ZipBase64 string `json:"zipBase64,omitempty" yaml:"zipBase64,omitempty" validate:"required_if=Type zip"`
	GitURL    string `json:"gitUrl,omitempty" yaml:"gitUrl,omitempty" validate:"required_if=Type git"`
	GitRef    string `json:"gitRef,omitempty" yaml:"gitRef,omitempty"`
}

// Validate checks struct constraints, then the JSON-typed fields.
func (in *CreateTaskInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if len(in.Schema) > 0 {
		if !isObject(in.Schema) {
			return invalid("schema", "must be a JSON object")
		}
		if _, err := compileSchema(in.Schema); err != nil {
			return invalid("schema", "%v", err)
		}
	}
	if len(in.Agents) > 0 && !isObject(in.Agents) {
		return invalid("agents", "must be a JSON object")
	}
	return nil
}

func (f *FilesInput) zip() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.ZipBase64)
	if err != nil {
		return nil, invalid("files.zipBase64", "is not valid base64: %v", err)
	}
	return data, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil
}

// CreateProfileInput is the request to create an MCP profile.
type CreateProfileInput struct {
	Name    string                         `json:"name" yaml:"name" validate:"required"`
	Servers map[string]workspace.MCPServer `json:"servers" yaml:"servers" validate:"required,min=1,dive"`
}

func (in *CreateProfileInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	for name := range in.Servers {
		if name == "" {
			return invalid("servers", "server names must not be empty")
		}
	}
	return nil
}

func profileNotFound(i int, ref string) error {
	return invalid(fmt.Sprintf("mcpProfiles[%d]", i), "profile %q not found", ref)
}
