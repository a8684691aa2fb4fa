package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	eventsPublished   otelmetric.Int64Counter
	eventsConsumed    otelmetric.Int64Counter
	eventsRejected    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("urska/queue/streams")
	var err error
	eventsPublished, err = meter.Int64Counter(
		"urska_stream_events_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: urska_stream_events_published_total: %v", err)
	}
	eventsConsumed, err = meter.Int64Counter(
		"urska_stream_events_consumed_total",
		otelmetric.WithDescription("Envelopes read from Redis streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: urska_stream_events_consumed_total: %v", err)
	}
	eventsRejected, err = meter.Int64Counter(
		"urska_stream_events_rejected_total",
		otelmetric.WithDescription("Stream entries dropped because they failed decoding or schema validation"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: urska_stream_events_rejected_total: %v", err)
	}
}

func countEvent(ctx context.Context, c *otelmetric.Int64Counter, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if *c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	(*c).Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event_type", eventType)))
}

func recordPublished(ctx context.Context, eventType string) { countEvent(ctx, &eventsPublished, eventType) }
func recordConsumed(ctx context.Context, eventType string)  { countEvent(ctx, &eventsConsumed, eventType) }
func recordRejected(ctx context.Context, eventType string)  { countEvent(ctx, &eventsRejected, eventType) }
