// Package roles implements the orchestrator's collaborators on top of a chat
// model.
package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/urska/internal/agent/core"
	"github.com/mohammad-safakhou/urska/internal/planner"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/provider"
)

func chatText(ctx context.Context, llm provider.Provider, req provider.Request) (string, error) {
	resp, err := llm.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Strategist drafts the free-form strategy paragraph.
type Strategist struct {
	llm provider.Provider
}

func NewStrategist(llm provider.Provider) *Strategist { return &Strategist{llm: llm} }

func (s *Strategist) Strategize(ctx context.Context, objective, catalogue string) (string, error) {
	return chatText(ctx, s.llm, provider.Request{Messages: []provider.Message{
		provider.System(strategistSystemPrompt),
		provider.User(buildStrategyPrompt(objective, catalogue)),
	}})
}

// planSchema asks structured-output backends for the plan shape.
func planSchema() *provider.Schema {
	return &provider.Schema{Name: "plan", Definition: planner.ResponseSchema()}
}

// Planner turns a strategy into plan JSON.
type Planner struct {
	llm provider.Provider
}

func NewPlanner(llm provider.Provider) *Planner { return &Planner{llm: llm} }

func (p *Planner) Plan(ctx context.Context, catalogue, strategy string) (string, error) {
	return chatText(ctx, p.llm, provider.Request{
		Messages: []provider.Message{
			provider.System(plannerSystemPrompt),
			provider.User(buildPlanPrompt(catalogue, strategy)),
		},
		Schema: planSchema(),
	})
}

// Replanner revises the remaining plan after every stage.
type Replanner struct {
	llm provider.Provider
}

func NewReplanner(llm provider.Provider) *Replanner { return &Replanner{llm: llm} }

func (r *Replanner) Replan(ctx context.Context, in core.ReplanInput) (string, error) {
	return chatText(ctx, r.llm, provider.Request{
		Messages: []provider.Message{
			provider.System(replannerSystemPrompt),
			provider.User(buildReplanPrompt(in)),
		},
		Schema: planSchema(),
	})
}

// Synthesizer writes the final answer without tool access.
type Synthesizer struct {
	llm provider.Provider
}

func NewSynthesizer(llm provider.Provider) *Synthesizer { return &Synthesizer{llm: llm} }

func (s *Synthesizer) Synthesize(ctx context.Context, objective string, history []core.PastStep) (string, error) {
	answer, err := chatText(ctx, s.llm, provider.Request{Messages: []provider.Message{
		provider.System(synthesizerSystemPrompt),
		provider.User(buildSynthesisPrompt(objective, history)),
	}})
	if err != nil {
		return "", err
	}
	_ = progress.FromContext(ctx).Emit(ctx, progress.Chunk(answer))
	return answer, nil
}

// Rephraser turns a follow-up question into a standalone one.
type Rephraser struct {
	llm provider.Provider
}

func NewRephraser(llm provider.Provider) *Rephraser { return &Rephraser{llm: llm} }

// Rephrase returns objective unchanged unless the conversation holds more than
// two messages. An empty rewrite also falls back to the original objective.
func (r *Rephraser) Rephrase(ctx context.Context, objective string, conversation []provider.Message) (string, error) {
	if len(conversation) <= 2 {
		return objective, nil
	}
	prompt := fmt.Sprintf("%s\n\nUSER ASKED:\n%s", RenderConversation(conversation), strings.TrimSpace(objective))
	out, err := chatText(ctx, r.llm, provider.Request{Messages: []provider.Message{
		provider.System(rephraserSystemPrompt),
		provider.User(prompt),
	}})
	if err != nil {
		return "", fmt.Errorf("rephrase: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return objective, nil
	}
	return strings.TrimSpace(out), nil
}
