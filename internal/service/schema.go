package service

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// compileSchema parses raw as a JSON Schema document.
func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return rs, nil
}

// conforms reports whether data validates against schema. Undecodable data or
// schemas count as not conforming.
func conforms(schema, data json.RawMessage) (bool, error) {
	rs, err := compileSchema(schema)
	if err != nil {
		return false, err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return false, fmt.Errorf("decode result: %w", err)
	}
	if err := rs.Validate(instance); err != nil {
		return false, nil
	}
	return true, nil
}
