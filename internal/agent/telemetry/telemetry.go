package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded for a finished run.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// Telemetry records run-level metrics and logs a line per finished run.
type Telemetry struct {
	logger     *log.Logger
	runs       *prometheus.CounterVec
	iterations prometheus.Histogram
	duration   prometheus.Histogram
	branches   prometheus.Counter

	mu      sync.RWMutex
	summary Summary
}

// Summary is an in-process snapshot of everything recorded so far.
type Summary struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	Failures       map[string]int64
	AverageTime    time.Duration
}

// RunEvent represents a single orchestration run
type RunEvent struct {
	ID          string
	Objective   string
	StartTime   time.Time
	EndTime     time.Time
	Iterations  int
	Branches    int
	Success     bool
	FailureKind string
	Error       string
}

// Option configures Telemetry.
type Option func(*telemetryOptions)

type telemetryOptions struct {
	logger *log.Logger
	reg    prometheus.Registerer
}

// WithLogger replaces the default [TELEMETRY] logger.
func WithLogger(l *log.Logger) Option { return func(o *telemetryOptions) { o.logger = l } }

// WithRegisterer registers collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *telemetryOptions) { o.reg = reg }
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(opts ...Option) *Telemetry {
	o := telemetryOptions{
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		reg:    prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f := promauto.With(o.reg)
	return &Telemetry{
		logger: o.logger,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "urska_runs_total",
			Help: "Finished orchestration runs by outcome.",
		}, []string{"outcome"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "urska_run_iterations",
			Help:    "Stages executed per run.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "urska_run_duration_seconds",
			Help:    "Wall time of a run from admission to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		branches: f.NewCounter(prometheus.CounterOpts{
			Name: "urska_branches_executed_total",
			Help: "Branches handed to executors.",
		}),
		summary: Summary{Failures: make(map[string]int64)},
	}
}

// RecordRun records a finished run
func (t *Telemetry) RecordRun(_ context.Context, ev RunEvent) {
	if t == nil {
		return
	}
	elapsed := ev.EndTime.Sub(ev.StartTime)
	outcome := OutcomeDone
	if !ev.Success {
		outcome = OutcomeFailed
	}
	t.runs.WithLabelValues(outcome).Inc()
	t.iterations.Observe(float64(ev.Iterations))
	t.duration.Observe(elapsed.Seconds())
	t.branches.Add(float64(ev.Branches))

	t.mu.Lock()
	s := &t.summary
	s.TotalRuns++
	if ev.Success {
		s.SuccessfulRuns++
	} else {
		s.FailedRuns++
		s.Failures[ev.FailureKind]++
	}
	if s.TotalRuns == 1 {
		s.AverageTime = elapsed
	} else {
		total := s.AverageTime * time.Duration(s.TotalRuns-1)
		s.AverageTime = (total + elapsed) / time.Duration(s.TotalRuns)
	}
	t.mu.Unlock()

	if ev.Success {
		t.logger.Printf("Run Event: ID=%s, Success=true, Duration=%v, Iterations=%d, Branches=%d",
			ev.ID, elapsed, ev.Iterations, ev.Branches)
		return
	}
	t.logger.Printf("Run Event: ID=%s, Success=false, Kind=%s, Duration=%v, Iterations=%d, Error=%s",
		ev.ID, ev.FailureKind, elapsed, ev.Iterations, ev.Error)
}

// Summary returns a copy of the current counters.
func (t *Telemetry) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.summary
	out.Failures = make(map[string]int64, len(t.summary.Failures))
	for k, v := range t.summary.Failures {
		out.Failures[k] = v
	}
	return out
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	s := t.Summary()
	t.logger.Println("Shutting down telemetry system...")
	t.logger.Printf("Final Report: runs=%d ok=%d failed=%d avg=%v", s.TotalRuns, s.SuccessfulRuns, s.FailedRuns, s.AverageTime)
	for kind, n := range s.Failures {
		t.logger.Printf("  %s: %d", kind, n)
	}
}
