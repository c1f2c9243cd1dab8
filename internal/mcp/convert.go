// Package mcp exposes swarm tasks as MCP tools.
package mcp

import (
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// paramSpec describes one tool argument.
type paramSpec struct {
	Type        string
	Description string
	Required    bool
	Enum        []string
	// Items is the element type of array parameters.
	Items string
}

type toolSpec struct {
	Name        string
	Description string
	ReadOnly    bool
	Parameters  map[string]paramSpec
}

// toMCPTool converts a toolSpec to an mcp.Tool with a JSON Schema input.
func toMCPTool(spec toolSpec) *mcpsdk.Tool {
	props := make(map[string]any, len(spec.Parameters))
	var required []string

	for name, p := range spec.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != "" {
			prop["items"] = map[string]any{"type": p.Items}
		}
		props[name] = prop

		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	inputSchema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	tool := &mcpsdk.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: inputSchema,
	}
	if spec.ReadOnly {
		tool.Annotations = &mcpsdk.ToolAnnotations{ReadOnlyHint: true}
	}
	return tool
}
