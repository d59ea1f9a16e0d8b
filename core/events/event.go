package events

// Event is a structured state change emitted by one of the engines.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (RPC, indexers,
// metrics). Implementations must not block the emitting engine.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding everything. Engines default
// to it so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Collector buffers emitted events in order. Intended for tests and for the
// daemon's in-memory event feed.
type Collector struct {
	Events []Event
}

// Emit appends the event to the buffer.
func (c *Collector) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}

// Reset drops all buffered events.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.Events = nil
}
