package telemetry

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRunUpdatesCountersAndSummary(t *testing.T) {
	tel := NewTelemetry(
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(log.New(io.Discard, "", 0)),
	)
	start := time.Now()
	tel.RecordRun(context.Background(), RunEvent{ID: "a", StartTime: start, EndTime: start.Add(2 * time.Second), Iterations: 2, Branches: 3, Success: true})
	tel.RecordRun(context.Background(), RunEvent{ID: "b", StartTime: start, EndTime: start.Add(4 * time.Second), FailureKind: "PlanFormatError", Error: "bad"})

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.runs.WithLabelValues(OutcomeDone)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.runs.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(tel.branches))

	s := tel.Summary()
	assert.EqualValues(t, 2, s.TotalRuns)
	assert.EqualValues(t, 1, s.Failures["PlanFormatError"])
	assert.Equal(t, 3*time.Second, s.AverageTime)

	s.Failures["PlanFormatError"] = 99
	assert.EqualValues(t, 1, tel.Summary().Failures["PlanFormatError"])
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() { tel.RecordRun(context.Background(), RunEvent{}) })
}
