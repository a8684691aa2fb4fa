package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/planner"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalogue struct{ tools []tools.Tool }

func (c fakeCatalogue) Describe() string    { return `[{"name":"T"}]` }
func (c fakeCatalogue) Tools() []tools.Tool { return c.tools }

// script is a scripted implementation of every collaborator.
type script struct {
	strategy  string
	plan      string
	replans   []string
	execute   func(ctx context.Context, instruction string) (string, error)
	answer    string
	selected  []string
	failPhase string

	mu          sync.Mutex
	strategized int
	planned     int
	replanned   int
	replanIn    []ReplanInput
	executed    []string
	synthesized [][]PastStep
}

var errBoom = errors.New("boom")

func (s *script) Strategize(_ context.Context, objective, catalogue string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategized++
	if s.failPhase == "strategy" {
		return "", errBoom
	}
	return s.strategy, nil
}

func (s *script) Plan(_ context.Context, catalogue, strategy string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planned++
	if s.failPhase == "plan" {
		return "", errBoom
	}
	return s.plan, nil
}

func (s *script) Replan(_ context.Context, in ReplanInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replanned++
	s.replanIn = append(s.replanIn, in)
	if len(s.replans) == 0 {
		return `{"steps":[]}`, nil
	}
	next := s.replans[0]
	s.replans = s.replans[1:]
	return next, nil
}

func (s *script) Execute(ctx context.Context, instruction string) (string, error) {
	s.mu.Lock()
	s.executed = append(s.executed, instruction)
	fn := s.execute
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, instruction)
	}
	return "observed " + instruction, nil
}

func (s *script) Synthesize(_ context.Context, objective string, history []PastStep) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesized = append(s.synthesized, history)
	if s.failPhase == "synthesis" {
		return "", errBoom
	}
	return s.answer, nil
}

func (s *script) Select(_ context.Context, objective string, candidates []tools.Tool) ([]string, error) {
	if s.failPhase == "filter" {
		return nil, errBoom
	}
	return s.selected, nil
}

func (s *script) collaborators() Collaborators {
	return Collaborators{Strategist: s, Planner: s, Replanner: s, Executor: s, Synthesizer: s, Filter: s}
}

func newTestOrchestrator(t *testing.T, s *script, maxIterations int, mode string, cat Catalogue) *Orchestrator {
	t.Helper()
	if cat == nil {
		cat = fakeCatalogue{}
	}
	o, err := NewOrchestrator(s.collaborators(), cat, Options{MaxIterations: maxIterations, Mode: mode})
	require.NoError(t, err)
	return o
}

func requireKind(t *testing.T, err error, kind FailureKind) {
	t.Helper()
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, kind, re.Kind)
}

func TestEmptyPlanGoesStraightToSynthesis(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[]}`, answer: "unused"}
	o := newTestOrchestrator(t, s, 5, "", nil)

	_, err := o.Run(context.Background(), "r1", "X?")
	requireKind(t, err, NoResultProduced)
	assert.Empty(t, s.executed)
	assert.Zero(t, s.replanned)
	assert.Empty(t, s.synthesized, "synthesizer must not run on empty history")
}

func TestSingleStepPlanProducesOnePastStep(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[["x"]]}`, answer: "done"}
	o := newTestOrchestrator(t, s, 5, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Answer)
	assert.Equal(t, []PastStep{{Instruction: "x", Observation: "observed x"}}, res.History)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, s.replanned)
	require.Len(t, s.synthesized, 1)
	assert.Equal(t, res.History, s.synthesized[0])
}

func TestIterationCapSkipsReplanner(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[["a"],["b"]]}`, answer: "ok"}
	o := newTestOrchestrator(t, s, 1, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s.executed)
	assert.Zero(t, s.replanned)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, `{"steps":[["b"]]}`, res.Plan.Encode())
}

func TestMalformedPlanFails(t *testing.T) {
	for name, text := range map[string]string{
		"missing steps": `{"foo":1}`,
		"not json":      `steps: a`,
		"wrong shape":   `{"steps":["a"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := &script{strategy: "s", plan: text}
			o := newTestOrchestrator(t, s, 5, "", nil)

			_, err := o.Run(context.Background(), "r1", "X?")
			requireKind(t, err, PlanFormatError)
			var fe *planner.FormatError
			assert.ErrorAs(t, err, &fe)
			assert.Empty(t, s.executed)
		})
	}
}

func TestMalformedReplanFails(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[["a"],["b"]]}`, replans: []string{`{"foo":1}`}}
	o := newTestOrchestrator(t, s, 5, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	requireKind(t, err, PlanFormatError)
	assert.Len(t, res.History, 1)
	assert.Empty(t, s.synthesized)
}

func TestEmptyBlueprintFailsBeforePlanning(t *testing.T) {
	for _, strategy := range []string{"", "  \n\t"} {
		s := &script{strategy: strategy}
		o := newTestOrchestrator(t, s, 5, "", nil)

		_, err := o.Run(context.Background(), "r1", "X?")
		requireKind(t, err, BlueprintMissing)
		assert.Zero(t, s.planned)
	}
}

func TestBranchStepsAreConcatenated(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[["a","b"]]}`, answer: "ok"}
	o := newTestOrchestrator(t, s, 5, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	require.Len(t, res.History, 1)
	assert.Equal(t, "a\nb", res.History[0].Instruction)
	assert.Equal(t, []string{"a\nb"}, s.executed)
}

func TestEndToEndScenario(t *testing.T) {
	s := &script{
		strategy: "search broadly",
		plan:     `{"steps":[["call tool T with Y"]]}`,
		execute: func(_ context.Context, instruction string) (string, error) {
			return "result R", nil
		},
		replans: []string{`{"steps":[]}`},
		answer:  "Answer based on R",
	}
	o := newTestOrchestrator(t, s, 5, "", nil)
	rec := &progress.Recorder{}
	ctx := progress.WithSink(context.Background(), rec)

	res, err := o.Run(ctx, "r1", "X?")
	require.NoError(t, err)
	assert.Equal(t, "Answer based on R", res.Answer)
	assert.Equal(t, "search broadly", res.Strategy)
	assert.Equal(t, []PastStep{{Instruction: "call tool T with Y", Observation: "result R"}}, res.History)
	assert.True(t, res.Plan.Empty())

	require.Len(t, s.replanIn, 1)
	assert.Equal(t, "X?", s.replanIn[0].Objective)
	assert.True(t, s.replanIn[0].Remaining.Empty())
	assert.Len(t, s.replanIn[0].History, 1)

	var notes []string
	for _, ev := range rec.OfType(progress.TypeNotification) {
		notes = append(notes, ev.Text())
	}
	assert.Equal(t, []string{
		"Drafting a strategy...",
		"Planning...",
		"Executing stage 1 (1 branches)...",
		"Replanning...",
		"Synthesizing...",
	}, notes)
}

func TestBranchesRunConcurrentlyAndKeepDispatchOrder(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	cat := fakeCatalogue{tools: []tools.Tool{{Name: "first"}, {Name: "second"}, {Name: "third"}}}
	s := &script{selected: []string{"first", "second", "third"}, answer: "ok"}
	s.execute = func(ctx context.Context, instruction string) (string, error) {
		started.Done()
		started.Wait() // every branch must be in flight at once
		if strings.Contains(instruction, "first") {
			time.Sleep(20 * time.Millisecond)
		}
		return "obs", nil
	}
	o := newTestOrchestrator(t, s, 5, config.ModeFilter, cat)

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		res, err = o.Run(context.Background(), "r1", "X?")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("branches were not dispatched concurrently")
	}
	require.NoError(t, err)
	require.Len(t, res.History, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Contains(t, res.History[i].Instruction, "tool "+want+" ")
	}
	assert.Equal(t, 3, res.Branches)
	assert.Equal(t, 1, res.Iterations)
}

func TestStepTextIsPassedThroughUnchanged(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[["  call T  "],[""]]}`, answer: "ok"}
	o := newTestOrchestrator(t, s, 5, "", nil)
	s.replans = []string{`{"steps":[[""]]}`}

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	require.Len(t, res.History, 2)
	assert.Equal(t, "  call T  ", res.History[0].Instruction)
	assert.Equal(t, "", res.History[1].Instruction)
	assert.Equal(t, []string{"  call T  ", ""}, s.executed)
	assert.Equal(t, 2, res.Iterations)
}

func TestExecutorErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	s := &script{strategy: "s", plan: `{"steps":[["bad"],["later"]]}`}
	s.execute = func(ctx context.Context, instruction string) (string, error) {
		calls.Add(1)
		if instruction == "bad" {
			return "", errBoom
		}
		return "fine", nil
	}
	o := newTestOrchestrator(t, s, 5, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	requireKind(t, err, CollaboratorError)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, s.replanned)
	assert.Empty(t, res.History)
	assert.Equal(t, 1, res.Plan.Len())
}

func TestCollaboratorErrorsAreFatal(t *testing.T) {
	for _, phase := range []string{"strategy", "plan", "synthesis"} {
		t.Run(phase, func(t *testing.T) {
			s := &script{strategy: "s", plan: `{"steps":[["a"]]}`, failPhase: phase}
			o := newTestOrchestrator(t, s, 5, "", nil)

			_, err := o.Run(context.Background(), "r1", "X?")
			requireKind(t, err, CollaboratorError)
			assert.ErrorIs(t, err, errBoom)
		})
	}
}

func TestEmptyStageAndEmptyBranchesEndExecution(t *testing.T) {
	s := &script{strategy: "s", plan: `{"steps":[["a"]]}`, replans: []string{`{"steps":[[],["never"]]}`}, answer: "ok"}
	o := newTestOrchestrator(t, s, 5, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s.executed)
	assert.Equal(t, 1, res.Branches)
}

func TestReplanReplacesRemainingPlan(t *testing.T) {
	s := &script{
		strategy: "s",
		plan:     `{"steps":[["a"],["b"]]}`,
		replans:  []string{`{"steps":[["c"]]}`, `{"steps":[]}`},
		answer:   "ok",
	}
	o := newTestOrchestrator(t, s, 5, "", nil)

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, s.executed)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, s.replanIn, 2)
	assert.Equal(t, `{"steps":[["b"]]}`, s.replanIn[0].Remaining.Encode())
	assert.Len(t, s.replanIn[1].History, 2)
}

func TestFilterModeBuildsOneStagePlan(t *testing.T) {
	cat := fakeCatalogue{tools: []tools.Tool{{Name: "search"}, {Name: "weather"}, {Name: "wiki"}}}
	s := &script{selected: []string{"wiki", "ghost", "search", "wiki"}, answer: "ok"}
	o := newTestOrchestrator(t, s, 5, config.ModeFilter, cat)

	res, err := o.Run(context.Background(), "r1", "X?")
	require.NoError(t, err)
	want := []string{
		"Use the tool search to gather information relevant to: X?",
		"Use the tool wiki to gather information relevant to: X?",
	}
	require.Len(t, res.History, 2)
	assert.Equal(t, want, []string{res.History[0].Instruction, res.History[1].Instruction})
	// branches run concurrently, so completion order is free
	assert.ElementsMatch(t, want, s.executed)
	assert.Zero(t, s.strategized)
	assert.Zero(t, s.replanned)
	assert.Equal(t, 1, res.Iterations)
}

func TestFilterModeWithNoToolsHasNoResult(t *testing.T) {
	cat := fakeCatalogue{tools: []tools.Tool{{Name: "search"}}}
	s := &script{}
	o := newTestOrchestrator(t, s, 5, config.ModeFilter, cat)

	_, err := o.Run(context.Background(), "r1", "X?")
	requireKind(t, err, NoResultProduced)

	s.failPhase = "filter"
	_, err = o.Run(context.Background(), "r2", "X?")
	requireKind(t, err, CollaboratorError)
}

func TestNewOrchestratorValidates(t *testing.T) {
	s := &script{}
	_, err := NewOrchestrator(Collaborators{Executor: s, Synthesizer: s}, fakeCatalogue{}, Options{})
	assert.Error(t, err, "plan mode without planner")

	_, err = NewOrchestrator(Collaborators{Executor: s, Synthesizer: s}, fakeCatalogue{}, Options{Mode: config.ModeFilter})
	assert.Error(t, err, "filter mode without filter")

	_, err = NewOrchestrator(s.collaborators(), nil, Options{})
	assert.Error(t, err)

	_, err = NewOrchestrator(s.collaborators(), fakeCatalogue{}, Options{Mode: "wander"})
	assert.Error(t, err)

	o, err := NewOrchestrator(s.collaborators(), fakeCatalogue{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModePlan, o.Mode())
	assert.Equal(t, 5, o.maxIterations)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, FailureKind(""), KindOf(nil))
	assert.Equal(t, CollaboratorError, KindOf(errBoom))
	assert.Equal(t, NoResultProduced, KindOf(fail(NoResultProduced, "x")))
}
