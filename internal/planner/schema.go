package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

// FormatError reports planner output that does not satisfy the plan wire format.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for plan documents.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// ParsePlan decodes planner output strictly: the text must be JSON, must be an
// object holding "steps", and "steps" must be a list of lists of strings.
// Surrounding whitespace is the only thing tolerated.
func ParsePlan(text string) (Plan, error) {
	data := []byte(strings.TrimSpace(text))
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Plan{}, &FormatError{Reason: "plan is not valid JSON", Err: err}
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return Plan{}, &FormatError{Reason: "plan must be a JSON object"}
	}
	if _, ok := obj["steps"]; !ok {
		return Plan{}, &FormatError{Reason: `plan is missing "steps"`}
	}
	schema, err := PlanSchema()
	if err != nil {
		return Plan{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return Plan{}, &FormatError{Reason: "plan does not match schema", Err: err}
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return Plan{}, &FormatError{Reason: "decode plan", Err: err}
	}
	return plan, nil
}

// ResponseSchema is the strict schema handed to model backends that support
// structured output, so the model is steered towards the plan wire format.
func ResponseSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "description": "Ordered stages. Each stage is a list of independent branches; each branch is one or two self-contained instructions.",
      "items": {"type": "array", "items": {"type": "string"}}
    }
  },
  "required": ["steps"],
  "additionalProperties": false
}`)
}
