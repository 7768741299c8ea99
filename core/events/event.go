package events

import "comclear/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder buffers every emitted event so a caller can return them alongside
// the result of the operation that produced them. It is not safe for
// concurrent use; callers are expected to hold the state mutation lock.
type Recorder struct {
	events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		if e := payload.Event(); e != nil {
			r.events = append(r.events, e)
		}
	}
}

// Drain returns the buffered events and resets the recorder.
func (r *Recorder) Drain() []*types.Event {
	if r == nil {
		return nil
	}
	drained := r.events
	r.events = nil
	return drained
}
