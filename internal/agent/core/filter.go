package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/mohammad-safakhou/urska/internal/planner"
	"go.opentelemetry.io/otel/attribute"
)

// filterPlan builds a single-stage plan with one branch per tool the filter
// selected. Unknown names returned by the filter are ignored.
func (o *Orchestrator) filterPlan(ctx context.Context, objective string) (planner.Plan, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.filter")
	defer span.End()

	candidates := o.catalogue.Tools()
	selected, err := o.collab.Filter.Select(ctx, objective, candidates)
	if err != nil {
		return planner.Plan{}, endPhase(span, &RunError{Kind: CollaboratorError, Err: fmt.Errorf("tool filter: %w", err)})
	}

	known := make(map[string]int, len(candidates))
	for i, t := range candidates {
		known[t.Name] = i
	}
	picked := make(map[string]struct{}, len(selected))
	idx := make([]int, 0, len(selected))
	for _, name := range selected {
		i, ok := known[name]
		if !ok {
			o.logger.Printf("tool filter selected unknown tool %q", name)
			continue
		}
		if _, dup := picked[name]; dup {
			continue
		}
		picked[name] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	span.SetAttributes(attribute.Int("filter.selected", len(idx)))
	if len(idx) == 0 {
		return planner.Plan{}, nil
	}

	stage := make(planner.Stage, 0, len(idx))
	for _, i := range idx {
		stage = append(stage, planner.Branch{
			fmt.Sprintf("Use the tool %s to gather information relevant to: %s", candidates[i].Name, objective),
		})
	}
	return planner.Plan{Steps: []planner.Stage{stage}}, nil
}
