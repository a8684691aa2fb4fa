// Package admission bounds how many orchestration runs execute at once.
//
// A single goroutine owns the waiting list and the running set. Callers talk
// to it only through message sends, so queue operations are linearizable
// without any external locking.
package admission

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("admission queue closed")

// EventKind distinguishes the two messages a waiting caller can receive.
type EventKind int

const (
	// PositionUpdate carries the 1-based distance from the front of the waiting list.
	PositionUpdate EventKind = iota + 1
	// StartJob tells the caller it has been admitted. It is always the last event.
	StartJob
)

func (k EventKind) String() string {
	switch k {
	case PositionUpdate:
		return "PositionUpdate"
	case StartJob:
		return "StartJob"
	default:
		return "Unknown"
	}
}

// Event is delivered on a Handle.
type Event struct {
	Kind     EventKind
	Position int
	ID       string
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Capacity  int   `json:"capacity"`
	Waiting   int   `json:"waiting"`
	Running   int   `json:"running"`
	Admitted  int64 `json:"admitted"`
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithRegisterer registers the queue collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(q *Queue) { q.reg = reg }
}

// WithIDGenerator overrides how entry ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

type enterReq struct {
	reply chan *Handle
}

type completeReq struct {
	id   string
	done chan struct{}
}

type leaveReq struct {
	h    *Handle
	done chan struct{}
}

// Queue is the admission queue. Create it with New and stop it with Close.
type Queue struct {
	capacity int
	logger   *log.Logger
	reg      prometheus.Registerer
	metrics  *metrics
	newID    func() string

	enterCh    chan enterReq
	completeCh chan completeReq
	leaveCh    chan leaveReq
	statsCh    chan chan Stats

	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// state is owned by the loop goroutine and never touched elsewhere.
type state struct {
	waiting   []*Handle
	running   map[string]*Handle
	admitted  int64
	completed int64
	abandoned int64
}

// New starts a queue that admits at most capacity runs at once.
// A capacity below one is treated as one.
func New(capacity int, opts ...Option) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		capacity:   capacity,
		logger:     log.New(io.Discard, "", 0),
		newID:      uuid.NewString,
		enterCh:    make(chan enterReq),
		completeCh: make(chan completeReq),
		leaveCh:    make(chan leaveReq),
		statsCh:    make(chan chan Stats),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.metrics = newMetrics(q.reg, capacity)
	go q.loop()
	return q
}

// Capacity returns the maximum number of concurrently running entries.
func (q *Queue) Capacity() int { return q.capacity }

// Enter appends a new entry to the waiting list and returns its handle.
// The handle receives zero or more PositionUpdate events followed by exactly
// one StartJob, unless the caller leaves or the queue closes first.
func (q *Queue) Enter(ctx context.Context) (*Handle, error) {
	req := enterReq{reply: make(chan *Handle, 1)}
	select {
	case q.enterCh <- req:
	case <-q.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case h := <-req.reply:
		return h, nil
	case <-q.stopped:
		return nil, ErrClosed
	}
}

// Complete releases the running slot held by id and admits the next waiting
// entries. Completing an id that is not running is a no-op.
func (q *Queue) Complete(id string) {
	req := completeReq{id: id, done: make(chan struct{})}
	select {
	case q.completeCh <- req:
	case <-q.quit:
		return
	}
	select {
	case <-req.done:
	case <-q.stopped:
	}
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case q.statsCh <- reply:
	case <-q.quit:
		return Stats{Capacity: q.capacity}
	}
	select {
	case s := <-reply:
		return s
	case <-q.stopped:
		return Stats{Capacity: q.capacity}
	}
}

// Close stops the queue. Waiting handles see their event channel close
// without a StartJob.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.quit) })
	<-q.stopped
}

func (q *Queue) leave(h *Handle) {
	req := leaveReq{h: h, done: make(chan struct{})}
	select {
	case q.leaveCh <- req:
	case <-q.quit:
		return
	}
	select {
	case <-req.done:
	case <-q.stopped:
	}
}

func (q *Queue) loop() {
	defer close(q.stopped)
	st := &state{running: make(map[string]*Handle)}
	for {
		select {
		case req := <-q.enterCh:
			h := newHandle(q, q.newID())
			st.waiting = append(st.waiting, h)
			req.reply <- h
			q.logger.Printf("entered id=%s waiting=%d running=%d", h.ID, len(st.waiting), len(st.running))
			q.admitNext(st)
		case req := <-q.completeCh:
			if _, ok := st.running[req.id]; ok {
				delete(st.running, req.id)
				st.completed++
				q.logger.Printf("completed id=%s", req.id)
			}
			q.admitNext(st)
			close(req.done)
		case req := <-q.leaveCh:
			h := req.h
			if !h.isGone() {
				close(h.gone)
			}
			// An admitted caller that leaves gives its slot back.
			if _, ok := st.running[h.ID]; ok {
				delete(st.running, h.ID)
				st.completed++
				q.logger.Printf("left while running id=%s", h.ID)
				q.admitNext(st)
			}
			close(req.done)
		case reply := <-q.statsCh:
			reply <- Stats{
				Capacity:  q.capacity,
				Waiting:   len(st.waiting),
				Running:   len(st.running),
				Admitted:  st.admitted,
				Completed: st.completed,
				Abandoned: st.abandoned,
			}
		case <-q.quit:
			for _, h := range st.waiting {
				close(h.events)
			}
			st.waiting = nil
			q.metrics.observe(st)
			return
		}
	}
}

// admitNext fills free running slots from the front of the waiting list and
// then re-broadcasts positions to every entry still waiting.
func (q *Queue) admitNext(st *state) {
	for len(st.running) < q.capacity && len(st.waiting) > 0 {
		h := st.waiting[0]
		st.waiting[0] = nil
		st.waiting = st.waiting[1:]
		if !h.deliver(Event{Kind: StartJob, ID: h.ID}) {
			close(h.events)
			st.abandoned++
			q.metrics.abandoned.Inc()
			q.logger.Printf("abandoned id=%s: caller gone before admission", h.ID)
			continue
		}
		close(h.events)
		st.running[h.ID] = h
		st.admitted++
		q.metrics.admitted.Inc()
		q.logger.Printf("admitted id=%s running=%d/%d", h.ID, len(st.running), q.capacity)
	}
	for i, h := range st.waiting {
		h.deliver(Event{Kind: PositionUpdate, Position: i + 1, ID: h.ID})
	}
	q.metrics.observe(st)
}
