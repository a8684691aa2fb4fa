// Package progress carries status, position and partial-result events from a
// run back to whoever asked for it.
package progress

import (
	"encoding/json"
	"fmt"
)

// Type names an event on the wire.
type Type string

const (
	TypeChunk         Type = "Chunk"
	TypeNotification  Type = "Notification"
	TypeQueuePosition Type = "QueuePosition"
	TypeError         Type = "Error"
	TypeEnd           Type = "End"
)

// Event is serialized as {"type": ..., "data": ...}.
type Event struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Failure is the payload of an Error event.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newEvent(t Type, v interface{}) Event {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	return Event{Type: t, Data: data}
}

// Notification is a short human readable status line.
func Notification(msg string) Event { return newEvent(TypeNotification, msg) }

// Chunk is a piece of partial output.
func Chunk(text string) Event { return newEvent(TypeChunk, text) }

// QueuePosition reports the caller's 1-based place in the admission queue.
func QueuePosition(n int) Event { return newEvent(TypeQueuePosition, n) }

// End carries the final answer and closes a successful run.
func End(answer string) Event { return newEvent(TypeEnd, answer) }

// Fail carries the terminal failure of a run.
func Fail(kind, message string) Event {
	return newEvent(TypeError, Failure{Kind: kind, Message: message})
}

// Text decodes a string payload. Non-string payloads are returned raw.
func (e Event) Text() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return string(e.Data)
	}
	return s
}

// Position decodes a QueuePosition payload.
func (e Event) Position() (int, bool) {
	if e.Type != TypeQueuePosition {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(e.Data, &n); err != nil {
		return 0, false
	}
	return n, true
}

// Failure decodes an Error payload.
func (e Event) Failure() (Failure, bool) {
	if e.Type != TypeError {
		return Failure{}, false
	}
	var f Failure
	if err := json.Unmarshal(e.Data, &f); err != nil {
		return Failure{}, false
	}
	return f, true
}

// Terminal reports whether e ends the stream for a run.
func (e Event) Terminal() bool { return e.Type == TypeEnd || e.Type == TypeError }

func (e Event) String() string { return fmt.Sprintf("%s %s", e.Type, e.Data) }
