package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/agent/telemetry"
	"github.com/mohammad-safakhou/urska/internal/planner"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var orchestratorTracer trace.Tracer = otel.Tracer("urska/internal/agent/orchestrator")

// Collaborators are the model-backed roles a run calls out to. Strategist,
// Planner and Replanner are only required in plan mode; Filter only in
// filter mode.
type Collaborators struct {
	Strategist  Strategist
	Planner     Planner
	Replanner   Replanner
	Executor    Executor
	Synthesizer Synthesizer
	Filter      ToolFilter
}

// Options tune an Orchestrator.
type Options struct {
	MaxIterations int
	Mode          string
	Logger        *log.Logger
	Telemetry     *telemetry.Telemetry
}

// Orchestrator drives a run through strategy, planning, staged execution,
// replanning and synthesis. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	collab        Collaborators
	catalogue     Catalogue
	maxIterations int
	mode          string
	logger        *log.Logger
	telemetry     *telemetry.Telemetry
}

// NewOrchestrator checks that every collaborator the mode needs is present.
func NewOrchestrator(c Collaborators, catalogue Catalogue, opts Options) (*Orchestrator, error) {
	if catalogue == nil {
		return nil, errors.New("orchestrator: catalogue required")
	}
	if c.Executor == nil || c.Synthesizer == nil {
		return nil, errors.New("orchestrator: executor and synthesizer required")
	}
	norm := config.OrchestratorConfig{MaxIterations: opts.MaxIterations, Mode: opts.Mode}.Normalize()
	if err := norm.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	switch norm.Mode {
	case config.ModePlan:
		if c.Strategist == nil || c.Planner == nil || c.Replanner == nil {
			return nil, errors.New("orchestrator: plan mode requires strategist, planner and replanner")
		}
	case config.ModeFilter:
		if c.Filter == nil {
			return nil, errors.New("orchestrator: filter mode requires a tool filter")
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		collab:        c,
		catalogue:     catalogue,
		maxIterations: norm.MaxIterations,
		mode:          norm.Mode,
		logger:        logger,
		telemetry:     opts.Telemetry,
	}, nil
}

// Mode returns the configured orchestration mode.
func (o *Orchestrator) Mode() string { return o.mode }

// Run executes one objective to completion. The returned error is always a
// *RunError; the Result carries whatever was reached before a failure.
func (o *Orchestrator) Run(ctx context.Context, runID, objective string) (res Result, err error) {
	start := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("orchestrator.mode", o.mode),
		))
	defer span.End()

	defer func() {
		ev := telemetry.RunEvent{
			ID:         runID,
			Objective:  objective,
			StartTime:  start,
			EndTime:    time.Now(),
			Iterations: res.Iterations,
			Branches:   res.Branches,
			Success:    err == nil,
		}
		span.SetAttributes(attribute.Int("run.iterations", res.Iterations))
		if err != nil {
			ev.FailureKind = string(KindOf(err))
			ev.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, ev.FailureKind)
			o.logger.Printf("run %s failed after %d iteration(s): %v", runID, res.Iterations, err)
		} else {
			o.logger.Printf("run %s done after %d iteration(s) in %v", runID, res.Iterations, ev.EndTime.Sub(start))
		}
		o.telemetry.RecordRun(ctx, ev)
	}()

	catalogue := o.catalogue.Describe()
	maxIterations := o.maxIterations

	var plan planner.Plan
	if o.mode == config.ModeFilter {
		maxIterations = 1
		plan, err = o.filterPlan(ctx, objective)
		if err != nil {
			return res, err
		}
	} else {
		res.Strategy, err = o.strategize(ctx, objective, catalogue)
		if err != nil {
			return res, err
		}
		plan, err = o.plan(ctx, catalogue, res.Strategy)
		if err != nil {
			return res, err
		}
	}

	for {
		stage, ok := plan.PopStage()
		if !ok || len(stage) == 0 {
			break
		}
		steps, err := o.executeStage(ctx, res.Iterations+1, stage)
		if err != nil {
			res.Plan = plan
			return res, err
		}
		res.History = append(res.History, steps...)
		res.Branches += len(stage)
		res.Iterations++
		if res.Iterations >= maxIterations {
			o.logger.Printf("run %s reached max iterations (%d)", runID, maxIterations)
			break
		}
		plan, err = o.replan(ctx, ReplanInput{
			Catalogue: catalogue,
			Objective: objective,
			Remaining: plan,
			History:   cloneHistory(res.History),
		})
		if err != nil {
			res.Plan = plan
			return res, err
		}
	}
	res.Plan = plan

	res.Answer, err = o.synthesize(ctx, objective, res.History)
	return res, err
}

func (o *Orchestrator) strategize(ctx context.Context, objective, catalogue string) (string, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.strategize")
	defer span.End()
	progress.Notify(ctx, "Drafting a strategy...")

	strategy, err := o.collab.Strategist.Strategize(ctx, objective, catalogue)
	if err != nil {
		return "", endPhase(span, &RunError{Kind: CollaboratorError, Err: fmt.Errorf("strategist: %w", err)})
	}
	if strings.TrimSpace(strategy) == "" {
		return "", endPhase(span, fail(BlueprintMissing, "strategist returned no strategy"))
	}
	span.SetAttributes(attribute.Int("strategy.length", len(strategy)))
	return strategy, nil
}

func (o *Orchestrator) plan(ctx context.Context, catalogue, strategy string) (planner.Plan, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.plan")
	defer span.End()
	progress.Notify(ctx, "Planning...")

	text, err := o.collab.Planner.Plan(ctx, catalogue, strategy)
	if err != nil {
		return planner.Plan{}, endPhase(span, &RunError{Kind: CollaboratorError, Err: fmt.Errorf("planner: %w", err)})
	}
	p, err := planner.ParsePlan(text)
	if err != nil {
		return planner.Plan{}, endPhase(span, &RunError{Kind: PlanFormatError, Err: err})
	}
	span.SetAttributes(attribute.Int("plan.stages", p.Len()))
	return p, nil
}

func (o *Orchestrator) replan(ctx context.Context, in ReplanInput) (planner.Plan, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.replan",
		trace.WithAttributes(
			attribute.Int("plan.remaining", in.Remaining.Len()),
			attribute.Int("history.len", len(in.History)),
		))
	defer span.End()
	progress.Notify(ctx, "Replanning...")

	text, err := o.collab.Replanner.Replan(ctx, in)
	if err != nil {
		return in.Remaining, endPhase(span, &RunError{Kind: CollaboratorError, Err: fmt.Errorf("replanner: %w", err)})
	}
	p, err := planner.ParsePlan(text)
	if err != nil {
		return in.Remaining, endPhase(span, &RunError{Kind: PlanFormatError, Err: err})
	}
	span.SetAttributes(attribute.Int("plan.stages", p.Len()))
	return p, nil
}

// executeStage runs every branch concurrently and returns one PastStep per
// branch in dispatch order. The first executor error cancels the rest.
func (o *Orchestrator) executeStage(ctx context.Context, n int, branches planner.Stage) ([]PastStep, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.execute_stage",
		trace.WithAttributes(
			attribute.Int("stage.number", n),
			attribute.Int("stage.branches", len(branches)),
		))
	defer span.End()
	progress.Notify(ctx, fmt.Sprintf("Executing stage %d (%d branches)...", n, len(branches)))

	steps := make([]PastStep, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range branches {
		instruction := b.Instruction()
		steps[i].Instruction = instruction
		g.Go(func() error {
			out, err := o.collab.Executor.Execute(gctx, instruction)
			if err != nil {
				return fmt.Errorf("executor (stage %d, branch %d): %w", n, i+1, err)
			}
			steps[i].Observation = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, endPhase(span, &RunError{Kind: CollaboratorError, Err: err})
	}
	return steps, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, objective string, history []PastStep) (string, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.synthesize",
		trace.WithAttributes(attribute.Int("history.len", len(history))))
	defer span.End()

	if len(history) == 0 {
		return "", endPhase(span, fail(NoResultProduced, "no step produced a result"))
	}
	progress.Notify(ctx, "Synthesizing...")
	answer, err := o.collab.Synthesizer.Synthesize(ctx, objective, cloneHistory(history))
	if err != nil {
		return "", endPhase(span, &RunError{Kind: CollaboratorError, Err: fmt.Errorf("synthesizer: %w", err)})
	}
	return answer, nil
}

func endPhase(span trace.Span, err *RunError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Kind))
	return err
}

func cloneHistory(h []PastStep) []PastStep {
	return append([]PastStep(nil), h...)
}
