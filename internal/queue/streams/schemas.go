package streams

import "fmt"

// Event types carried on urska streams.
const (
	EventProgress     = "progress.event"
	EventRunCompleted = "run.completed"
	VersionV1         = "v1"
)

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventProgress,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "seq", "type", "data"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "type": {"type": "string", "enum": ["Chunk", "Notification", "QueuePosition", "Error", "End"]},
    "data": {}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "QueuePosition"}}},
      "then": {"properties": {"data": {"type": "integer", "minimum": 1}}}
    },
    {
      "if": {"properties": {"type": {"const": "Error"}}},
      "then": {"properties": {"data": {
        "type": "object",
        "required": ["kind", "message"],
        "properties": {"kind": {"type": "string"}, "message": {"type": "string"}}
      }}}
    },
    {
      "if": {"properties": {"type": {"enum": ["Chunk", "Notification", "End"]}}},
      "then": {"properties": {"data": {"type": "string"}}}
    }
  ],
  "additionalProperties": false
}`),
	},
	{
		EventType: EventRunCompleted,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "status", "iterations"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["done", "failed"]},
    "failure_kind": {"type": "string"},
    "error": {"type": "string"},
    "iterations": {"type": "integer", "minimum": 0},
    "duration_ms": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the baseline event schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewBaseRegistry returns a registry with the base schemas loaded.
func NewBaseRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
