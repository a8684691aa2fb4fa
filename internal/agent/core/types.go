package core

import (
	"context"

	"github.com/mohammad-safakhou/urska/internal/planner"
	"github.com/mohammad-safakhou/urska/internal/tools"
)

// PastStep records one executed branch: the instruction sent and what came back.
type PastStep struct {
	Instruction string `json:"instruction"`
	Observation string `json:"observation"`
}

// Catalogue is the set of tools the collaborators may reference.
type Catalogue interface {
	// Describe returns the serialized catalogue handed to prompts.
	Describe() string
	Tools() []tools.Tool
}

// Strategist drafts a free-form strategy for the objective.
type Strategist interface {
	Strategize(ctx context.Context, objective, catalogue string) (string, error)
}

// Planner turns a strategy into plan JSON text.
type Planner interface {
	Plan(ctx context.Context, catalogue, strategy string) (string, error)
}

// ReplanInput is everything the replanner is shown after a stage.
type ReplanInput struct {
	Catalogue string
	Objective string
	Remaining planner.Plan
	History   []PastStep
}

// Replanner revises the remaining plan in light of the history.
type Replanner interface {
	Replan(ctx context.Context, in ReplanInput) (string, error)
}

// Executor carries out a single instruction with no knowledge of the wider run.
type Executor interface {
	Execute(ctx context.Context, instruction string) (string, error)
}

// Synthesizer writes the final answer from the history alone.
type Synthesizer interface {
	Synthesize(ctx context.Context, objective string, history []PastStep) (string, error)
}

// ToolFilter selects which tools are worth calling for an objective.
type ToolFilter interface {
	Select(ctx context.Context, objective string, candidates []tools.Tool) ([]string, error)
}

// Result is the outcome of a run. On failure it still carries whatever
// history and plan had been reached.
type Result struct {
	Answer     string
	Strategy   string
	Plan       planner.Plan
	History    []PastStep
	Iterations int
	Branches   int
}
