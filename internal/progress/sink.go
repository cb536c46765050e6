package progress

import "context"

// Sink consumes batches of progress events. Implementations must tolerate
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it, so the engine stays
// agnostic about how events are buffered.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(evt Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}
