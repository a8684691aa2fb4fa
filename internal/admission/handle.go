package admission

import (
	"context"
	"sync"
)

// Handle is the caller's side of a queue entry.
type Handle struct {
	ID string

	q      *Queue
	events chan Event
	gone   chan struct{}
	once   sync.Once
}

func newHandle(q *Queue, id string) *Handle {
	return &Handle{
		ID:     id,
		q:      q,
		events: make(chan Event, 1),
		gone:   make(chan struct{}),
	}
}

// Events streams position updates and the final StartJob. The channel is
// closed after StartJob, or without one if the entry was dropped or the
// queue shut down.
// Only the latest position is retained when the reader falls behind.
func (h *Handle) Events() <-chan Event { return h.events }

// Leave marks the caller as gone. A waiting entry is dropped when it reaches
// the front of the queue; an entry that was already admitted frees its slot.
func (h *Handle) Leave() {
	h.once.Do(func() { h.q.leave(h) })
}

func (h *Handle) isGone() bool {
	select {
	case <-h.gone:
		return true
	default:
		return false
	}
}

// deliver runs on the queue goroutine, which is the only sender. A stale
// position still sitting in the buffer is replaced, so the send never blocks.
func (h *Handle) deliver(ev Event) bool {
	if h.isGone() {
		return false
	}
	select {
	case <-h.events:
	default:
	}
	h.events <- ev
	return true
}

// Await blocks until h is admitted, reporting each position to onPosition.
// If ctx ends first the caller leaves the queue and ctx.Err() is returned.
func Await(ctx context.Context, h *Handle, onPosition func(int)) error {
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return ErrClosed
			}
			switch ev.Kind {
			case PositionUpdate:
				if onPosition != nil {
					onPosition(ev.Position)
				}
			case StartJob:
				return nil
			}
		case <-ctx.Done():
			h.Leave()
			return ctx.Err()
		}
	}
}
