package progress

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrDetached is returned when the consumer of a Stream went away.
var ErrDetached = errors.New("progress consumer detached")

// Sink receives progress events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Stream is a channel-backed sink. Emit blocks until the event is read, the
// consumer detaches, or ctx is done.
type Stream struct {
	ch         chan Event
	detached   chan struct{}
	detachOnce sync.Once
	closeOnce  sync.Once
}

// NewStream creates a stream with the given buffer size.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{ch: make(chan Event, buffer), detached: make(chan struct{})}
}

func (s *Stream) Emit(ctx context.Context, ev Event) error {
	select {
	case <-s.detached:
		return ErrDetached
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.detached:
		return ErrDetached
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side.
func (s *Stream) Events() <-chan Event { return s.ch }

// Detach is called by the consumer when it stops reading.
func (s *Stream) Detach() { s.detachOnce.Do(func() { close(s.detached) }) }

// Close is called by the producer after its last Emit.
func (s *Stream) Close() { s.closeOnce.Do(func() { close(s.ch) }) }

// Fanout emits every event to each sink in order.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event to a logger.
func LogSink(l *log.Logger) Sink {
	return SinkFunc(func(_ context.Context, ev Event) error {
		l.Printf("%s", ev)
		return nil
	})
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type sinkKey struct{}

// WithSink attaches sink to ctx so collaborators deep in a run can report.
func WithSink(ctx context.Context, sink Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

// FromContext returns the sink attached to ctx, or Discard.
func FromContext(ctx context.Context) Sink {
	if s, ok := ctx.Value(sinkKey{}).(Sink); ok && s != nil {
		return s
	}
	return Discard
}

// Notify emits a Notification on the sink carried by ctx. Delivery errors are
// dropped: progress never fails a run.
func Notify(ctx context.Context, msg string) {
	_ = FromContext(ctx).Emit(ctx, Notification(msg))
}
