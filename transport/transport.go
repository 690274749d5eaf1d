package transport

import (
	"context"
	"encoding/json"
)

// Message is a single syntactically valid JSON value received from a peer.
type Message = json.RawMessage

// Transport is a bidirectional, ordered JSON message stream with an explicit
// lifecycle. Implementations serve a single consumer: Receive calls are
// serialized internally and never race each other for a message.
type Transport interface {
	// Start arms the underlying I/O and transitions to running.
	Start() error
	// Stop transitions to stopped without releasing resources.
	Stop()
	// IsRunning reports the lifecycle state.
	IsRunning() bool
	// Send encodes v as one message and writes it to the peer.
	Send(ctx context.Context, v any) error
	// Receive blocks until the next message arrives, the input ends, the
	// transport is stopped or ctx is done.
	Receive(ctx context.Context) (Message, error)
	// Close stops the transport and releases its resources. It is idempotent.
	Close() error
}
