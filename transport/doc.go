// Package transport defines the message transport contract shared by the
// worker's transports, along with the running/stopped lifecycle every
// transport embeds and the coded error type they return.
//
// A Transport moves opaque JSON values. It never inspects message shape
// beyond syntactic validity; interpreting requests is the job of the
// consumer (see package toolserver).
//
// Error codes
//
//	STDIN_UNAVAILABLE : no readable input stream at Start
//	NOT_STARTED       : operation attempted while not running
//	SEND_ERROR        : serialization or write failure (cause wrapped)
//	STDIN_CLOSED      : receive attempted or suspended after input ended
//
// Errors compare by code, so callers can write:
//
//	if errors.Is(err, transport.ErrStdinClosed) { return nil }
package transport
