package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/mohammad-safakhou/urska/internal/progress"
)

// ProgressPayload is the progress.event/v1 payload.
type ProgressPayload struct {
	RunID string          `json:"run_id"`
	Seq   int64           `json:"seq"`
	Type  progress.Type   `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// Event converts the payload back into a progress event.
func (p ProgressPayload) Event() progress.Event {
	return progress.Event{Type: p.Type, Data: p.Data}
}

// RunCompletedPayload is the run.completed/v1 payload.
type RunCompletedPayload struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	Iterations  int    `json:"iterations"`
	DurationMS  int64  `json:"duration_ms"`
}

// ProgressStream names the stream holding progress for one run.
func ProgressStream(prefix, runID string) string { return prefix + "." + runID }

// ProgressSink mirrors a run's progress events into its own stream.
type ProgressSink struct {
	pub    *Publisher
	runID  string
	stream string
	maxLen int64
	seq    atomic.Int64
}

// NewProgressSink publishes to ProgressStream(prefix, runID).
func NewProgressSink(pub *Publisher, prefix, runID string, maxLen int64) *ProgressSink {
	return &ProgressSink{pub: pub, runID: runID, stream: ProgressStream(prefix, runID), maxLen: maxLen}
}

// Stream returns the stream name events are written to.
func (s *ProgressSink) Stream() string { return s.stream }

// Emit implements progress.Sink.
func (s *ProgressSink) Emit(ctx context.Context, ev progress.Event) error {
	payload := ProgressPayload{RunID: s.runID, Seq: s.seq.Add(1), Type: ev.Type, Data: ev.Data}
	if _, err := s.pub.PublishRaw(ctx, s.stream, s.runID, EventProgress, VersionV1, payload, WithMaxLenApprox(s.maxLen)); err != nil {
		return fmt.Errorf("publish progress %s: %w", ev.Type, err)
	}
	return nil
}

// PublishRunCompleted appends a run.completed event to the run's stream.
func PublishRunCompleted(ctx context.Context, pub *Publisher, prefix string, p RunCompletedPayload, maxLen int64) error {
	_, err := pub.PublishRaw(ctx, ProgressStream(prefix, p.RunID), p.RunID, EventRunCompleted, VersionV1, p, WithMaxLenApprox(maxLen))
	if err != nil {
		return fmt.Errorf("publish run completed: %w", err)
	}
	return nil
}
