// Package service runs one question end to end: queueing, orchestration,
// persistence and progress reporting.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/admission"
	"github.com/mohammad-safakhou/urska/internal/agent/core"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/queue/streams"
	"github.com/mohammad-safakhou/urska/internal/store"
	"github.com/mohammad-safakhou/urska/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var serviceTracer trace.Tracer = otel.Tracer("urska/internal/service")

// ErrEmptyObjective is returned by Ask for a blank question.
var ErrEmptyObjective = errors.New("objective is required")

// Admitter is the admission queue as seen by the service.
type Admitter interface {
	Enter(ctx context.Context) (*admission.Handle, error)
	Complete(id string)
	Stats() admission.Stats
}

// Runner executes one admitted objective.
type Runner interface {
	Run(ctx context.Context, runID, objective string) (core.Result, error)
}

// Rephraser rewrites a follow-up into a standalone question.
type Rephraser interface {
	Rephrase(ctx context.Context, objective string, conversation []provider.Message) (string, error)
}

// Request is one question, optionally with the conversation that led to it.
type Request struct {
	Objective    string             `json:"objective"`
	Conversation []provider.Message `json:"conversation,omitempty"`
}

// Result is what Ask returns once the run is over.
type Result struct {
	RunID     string `json:"run_id"`
	Objective string `json:"objective"`
	core.Result
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRephraser(r Rephraser) Option {
	return func(s *Service) { s.rephraser = r }
}

// WithPublisher mirrors progress and completion events to Redis Streams.
func WithPublisher(pub *streams.Publisher, cfg config.StreamsConfig) Option {
	return func(s *Service) {
		s.publisher = pub
		s.streams = cfg
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Service is safe for concurrent use; every Ask is independent.
type Service struct {
	queue     Admitter
	runner    Runner
	store     store.RunStore
	rephraser Rephraser
	publisher *streams.Publisher
	streams   config.StreamsConfig
	logger    *log.Logger
	newID     func() string
	now       func() time.Time
}

func New(queue Admitter, runner Runner, runs store.RunStore, opts ...Option) *Service {
	s := &Service{
		queue:  queue,
		runner: runner,
		store:  runs,
		logger: log.New(io.Discard, "", 0),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	return s
}

// Ask queues req, then rephrases and runs it once admitted, reporting
// progress to sink. The caller gets exactly one End or Error event for a run that was admitted.
// If ctx ends while waiting the entry leaves the queue and ctx.Err() is
// returned. Once admitted the run completes regardless of ctx.
func (s *Service) Ask(ctx context.Context, req Request, sink progress.Sink) (Result, error) {
	objective := strings.TrimSpace(req.Objective)
	if objective == "" {
		return Result{}, ErrEmptyObjective
	}
	if sink == nil {
		sink = progress.Discard
	}
	runID := s.newID()
	res := Result{RunID: runID, Objective: objective}

	ctx, span := serviceTracer.Start(ctx, "service.ask", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	if s.publisher != nil && s.streams.Enabled {
		sink = progress.Fanout{sink, streams.NewProgressSink(s.publisher, s.streams.Prefix, runID, s.streams.MaxLen)}
	}
	ctx = progress.WithSink(ctx, sink)

	rec := store.RunRecord{ID: runID, Objective: objective, Status: store.StatusQueued, CreatedAt: s.now().UTC()}
	s.save(ctx, rec)

	h, err := s.queue.Enter(ctx)
	if err != nil {
		s.abort(ctx, span, rec, fmt.Errorf("enter queue: %w", err))
		return res, err
	}
	err = admission.Await(ctx, h, func(pos int) {
		s.emit(ctx, sink, progress.QueuePosition(pos))
	})
	if err != nil {
		s.abort(ctx, span, rec, fmt.Errorf("waiting for admission: %w", err))
		return res, err
	}
	defer s.queue.Complete(h.ID)

	// admitted runs are not cancellable
	runCtx := context.WithoutCancel(ctx)
	started := s.now()
	rec.Status = store.StatusRunning
	s.save(runCtx, rec)
	s.emit(runCtx, sink, progress.Notification("Preparing..."))

	if s.rephraser != nil && len(req.Conversation) > 0 {
		rewritten, err := s.rephraser.Rephrase(runCtx, objective, req.Conversation)
		if err != nil {
			s.logger.Printf("run %s: rephrase failed, keeping original objective: %v", runID, err)
		} else if rewritten != objective {
			s.logger.Printf("run %s: objective rephrased to %q", runID, rewritten)
			objective = rewritten
			res.Objective = rewritten
			rec.Objective = rewritten
		}
	}

	out, runErr := s.runner.Run(runCtx, runID, objective)
	res.Result = out

	finished := s.now().UTC()
	rec.Iterations = out.Iterations
	rec.History = out.History
	rec.Answer = out.Answer
	rec.FinishedAt = &finished
	if plan, err := json.Marshal(out.Plan); err == nil {
		rec.Plan = plan
	}
	completed := streams.RunCompletedPayload{
		RunID:      runID,
		Iterations: out.Iterations,
		DurationMS: s.now().Sub(started).Milliseconds(),
	}
	if runErr != nil {
		rec.Status = store.StatusFailed
		rec.FailureKind = string(core.KindOf(runErr))
		rec.Error = runErr.Error()
		completed.FailureKind = rec.FailureKind
		completed.Error = rec.Error
		span.RecordError(runErr)
		span.SetStatus(codes.Error, rec.FailureKind)
	} else {
		rec.Status = store.StatusDone
	}
	completed.Status = string(rec.Status)
	s.save(runCtx, rec)

	if runErr != nil {
		s.emit(runCtx, sink, progress.Fail(rec.FailureKind, rec.Error))
	} else {
		s.emit(runCtx, sink, progress.End(out.Answer))
	}
	if s.publisher != nil && s.streams.Enabled {
		if err := streams.PublishRunCompleted(runCtx, s.publisher, s.streams.Prefix, completed, s.streams.MaxLen); err != nil {
			s.logger.Printf("run %s: %v", runID, err)
		}
	}
	return res, runErr
}

// Run loads a stored run.
func (s *Service) Run(ctx context.Context, id string) (store.RunRecord, error) {
	return s.store.Get(ctx, id)
}

// Runs lists the most recent runs.
func (s *Service) Runs(ctx context.Context, limit int) ([]store.RunRecord, error) {
	return s.store.List(ctx, limit)
}

// QueueStats reports the admission queue.
func (s *Service) QueueStats() admission.Stats {
	return s.queue.Stats()
}

func (s *Service) abort(ctx context.Context, span trace.Span, rec store.RunRecord, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "not admitted")
	s.logger.Printf("run %s: %v", rec.ID, err)
	finished := s.now().UTC()
	rec.Status = store.StatusFailed
	rec.Error = err.Error()
	rec.FinishedAt = &finished
	s.save(context.WithoutCancel(ctx), rec)
}

func (s *Service) save(ctx context.Context, rec store.RunRecord) {
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Printf("run %s: persist %s record: %v", rec.ID, rec.Status, err)
	}
}

func (s *Service) emit(ctx context.Context, sink progress.Sink, ev progress.Event) {
	if err := sink.Emit(ctx, ev); err != nil && !errors.Is(err, progress.ErrDetached) {
		s.logger.Printf("progress %s: %v", ev.Type, err)
	}
}
