package feed

import "context"

// Sink accepts one record envelope for durable delivery. Implementations
// must tolerate being handed the same envelope more than once: the ingestion
// model is at-least-once and sinks are not asked to deduplicate, only not to
// corrupt state on repeats.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver hands one envelope to the sink. Buffering sinks may report a
	// failure for a batch on the Deliver call that triggered its flush.
	Deliver(ctx context.Context, env Envelope) error
}

// Flusher is an optional interface a Sink can implement when it buffers
// deliveries. The ingestion cycle flushes after every fetched batch so a
// crash never loses more than one batch of buffered records.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Closer is an optional interface a Sink can implement to release client
// resources. The ingestion cycle closes sinks when the run ends, on every
// outcome.
type Closer interface {
	Close(ctx context.Context) error
}
