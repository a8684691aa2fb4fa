// Package tools builds the catalogue of remote tools offered to planners and
// executors, and routes tool calls to the server that owns each tool.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/mohammad-safakhou/urska/provider"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownTool is returned when a call names a tool that no source offers.
var ErrUnknownTool = errors.New("unknown tool")

// Tool describes one callable tool.
type Tool struct {
	Server      string          `json:"server,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Result is what a tool returned. IsError marks a structured tool-side error,
// which is reported back to the model rather than failing the call.
type Result struct {
	Content string
	IsError bool
}

// ToolError wraps a transport-level failure calling a tool.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %s: %v", e.Tool, e.Err) }
func (e *ToolError) Unwrap() error { return e.Err }

// Source is a provider of tools, usually one MCP server.
type Source interface {
	Name() string
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error)
	Close() error
}

// Catalogue indexes the tools of every source by name.
type Catalogue struct {
	logger  *log.Logger
	sources []Source
	tools   []Tool
	owner   map[string]Source
}

// NewCatalogue lists the tools of all sources concurrently. When two sources
// offer the same tool name the one listed first wins.
func NewCatalogue(ctx context.Context, logger *log.Logger, sources ...Source) (*Catalogue, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	listed := make([][]Tool, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			ts, err := src.ListTools(gctx)
			if err != nil {
				return fmt.Errorf("list tools from %s: %w", src.Name(), err)
			}
			listed[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Catalogue{logger: logger, sources: sources, owner: make(map[string]Source)}
	for i, ts := range listed {
		for _, t := range ts {
			if _, dup := c.owner[t.Name]; dup {
				logger.Printf("duplicate tool %q from %s ignored", t.Name, sources[i].Name())
				continue
			}
			if t.Server == "" {
				t.Server = sources[i].Name()
			}
			c.owner[t.Name] = sources[i]
			c.tools = append(c.tools, t)
		}
	}
	sort.SliceStable(c.tools, func(a, b int) bool { return c.tools[a].Name < c.tools[b].Name })
	logger.Printf("catalogue ready: %d tools from %d sources", len(c.tools), len(sources))
	return c, nil
}

// Tools returns every tool in name order.
func (c *Catalogue) Tools() []Tool {
	return append([]Tool(nil), c.tools...)
}

// Describe renders the catalogue as a JSON document for prompts. Callers treat
// it as opaque text.
func (c *Catalogue) Describe() string {
	type entry struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	}
	out := make([]entry, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, entry{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Specs converts the catalogue to model tool declarations.
func (c *Catalogue) Specs() []provider.ToolSpec {
	specs := make([]provider.ToolSpec, 0, len(c.tools))
	for _, t := range c.tools {
		specs = append(specs, provider.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return specs
}

// Call runs a tool by name.
func (c *Catalogue) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	src, ok := c.owner[name]
	if !ok {
		return Result{}, &ToolError{Tool: name, Err: ErrUnknownTool}
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := src.CallTool(ctx, name, args)
	if err != nil {
		return Result{}, &ToolError{Tool: name, Err: err}
	}
	return res, nil
}

// Close closes every source.
func (c *Catalogue) Close() error {
	var errs []error
	for _, s := range c.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
