package events

import "evlvault/core/types"

// Event is a committed state change produced by the evolution engine.
type Event interface {
	EventType() string
}

// Envelope is implemented by events that can be flattened for the RPC stream.
type Envelope interface {
	Event
	Event() *types.Event
}

// Emitter receives events after the transaction that produced them commits.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}
