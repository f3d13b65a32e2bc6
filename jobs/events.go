// Package jobs drives the long-running, resumable background operations
// (import, fetch, embed, pipeline), persisting lifecycle state through
// store.Job and fanning progress out as typed SSE events.
package jobs

import (
	"encoding/json"
	"fmt"
)

// Event kinds emitted on a job's SSE stream. Pipeline jobs additionally
// emit phase-scoped variants with the same kinds but a non-empty Phase.
const (
	EventStarted     = "started"
	EventProgress    = "progress"
	EventItemSuccess = "item_success"
	EventItemFailed  = "item_failed"
	EventItemSkipped = "item_skipped"
	EventPaused      = "paused"
	EventResumed     = "resumed"
	EventCompleted   = "completed"
	EventFailed      = "failed"
	EventCancelled   = "cancelled"
)

// Event is one frame of a job's progress stream.
type Event struct {
	Kind    string         `json:"kind"`
	JobID   string         `json:"job_id"`
	Phase   string         `json:"phase,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// SSE renders the event as a single "event: <kind>\ndata: <json>\n\n" frame.
func (e Event) SSE() (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshaling event: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Kind, body), nil
}

// Emitter fans events out to whatever is reading a job's SSE stream. A
// nil channel (no attached reader) is a no-op send.
type Emitter struct {
	ch chan Event
}

// NewEmitter returns an Emitter buffering up to bufSize events for one
// subscriber; a full buffer drops the newly emitted event rather than
// blocking the worker goroutine.
func NewEmitter(bufSize int) *Emitter {
	return &Emitter{ch: make(chan Event, bufSize)}
}

// Emit pushes an event, dropping it if the channel is full so a slow or
// absent SSE reader never stalls the job's worker goroutine.
func (e *Emitter) Emit(evt Event) {
	select {
	case e.ch <- evt:
	default:
	}
}

// Events returns the read side of the event stream.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel once the worker goroutine is done
// emitting.
func (e *Emitter) Close() {
	close(e.ch)
}
