package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mohammad-safakhou/urska/internal/tools"
	"github.com/mohammad-safakhou/urska/provider"
	"golang.org/x/sync/errgroup"
)

var requirementSchema = json.RawMessage(`{
  "type": "object",
  "properties": {"function_usage_required": {"type": "boolean"}},
  "required": ["function_usage_required"],
  "additionalProperties": false
}`)

type requirement struct {
	FunctionUsageRequired bool `json:"function_usage_required"`
}

// ToolFilter asks the model, one tool at a time and in parallel, whether the
// tool is needed for the query.
type ToolFilter struct {
	llm    provider.Provider
	logger *log.Logger
}

func NewToolFilter(llm provider.Provider, logger *log.Logger) *ToolFilter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ToolFilter{llm: llm, logger: logger}
}

// Select returns the names of the required tools in candidate order. An
// unparseable verdict counts as "not required"; a failed model call fails
// the whole selection.
func (f *ToolFilter) Select(ctx context.Context, objective string, candidates []tools.Tool) ([]string, error) {
	required := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range candidates {
		g.Go(func() error {
			desc, _ := json.Marshal(t)
			resp, err := f.llm.Chat(gctx, provider.Request{
				Messages: []provider.Message{
					provider.System(filterSystemPrompt),
					provider.User(buildFilterPrompt(string(desc), objective)),
				},
				Schema: &provider.Schema{Name: "requirement", Definition: requirementSchema},
			})
			if err != nil {
				return fmt.Errorf("filter %s: %w", t.Name, err)
			}
			var r requirement
			if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &r); err != nil {
				f.logger.Printf("filter %s: unreadable verdict %q: %v", t.Name, resp.Content, err)
				return nil
			}
			required[i] = r.FunctionUsageRequired
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []string
	for i, ok := range required {
		if ok {
			out = append(out, candidates[i].Name)
		}
	}
	return out, nil
}
