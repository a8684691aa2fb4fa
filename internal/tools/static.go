package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler implements a tool in process.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// StaticTool pairs a description with its handler.
type StaticTool struct {
	Tool
	Handler Handler
}

// Static is an in-process source. It backs local tools and tests.
type Static struct {
	name  string
	tools []StaticTool
}

// NewStatic creates a source named name serving the given tools.
func NewStatic(name string, tools ...StaticTool) *Static {
	return &Static{name: name, tools: tools}
}

func (s *Static) Name() string { return s.name }

func (s *Static) ListTools(context.Context) ([]Tool, error) {
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.Tool)
	}
	return out, nil
}

func (s *Static) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	for _, t := range s.tools {
		if t.Name == name {
			if t.Handler == nil {
				return Result{}, fmt.Errorf("tool %s has no handler", name)
			}
			return t.Handler(ctx, args)
		}
	}
	return Result{}, ErrUnknownTool
}

func (s *Static) Close() error { return nil }
