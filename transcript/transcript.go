// Package transcript records the messages a worker exchanges with its host.
// A transcript is an observability mirror: it is written best-effort and is
// never replayed into a session.
package transcript

import (
	"context"
	"encoding/json"
	"time"
)

// Direction tells which way a message travelled.
type Direction string

const (
	// Inbound messages were received from the host.
	Inbound Direction = "in"
	// Outbound messages were sent to the host.
	Outbound Direction = "out"
)

// Entry is one recorded message.
type Entry struct {
	SessionID string          `json:"sessionId"`
	Direction Direction       `json:"direction"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data"`
}

// Recorder persists transcript entries.
type Recorder interface {
	// Record appends e to its session's transcript.
	Record(ctx context.Context, e Entry) error
	// Entries returns a session's entries, oldest first.
	Entries(ctx context.Context, sessionID string) ([]Entry, error)
	// Close releases backend resources.
	Close() error
}

// Discard is a Recorder that keeps nothing.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) error              { return nil }
func (discard) Entries(context.Context, string) ([]Entry, error) { return nil, nil }
func (discard) Close() error                                     { return nil }
