// Package memory provides an in-process transcript.Recorder that keeps the
// most recent entries of each session.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/toolpipe/transcript"
)

// DefaultLimit is the per-session entry cap used when none is configured.
const DefaultLimit = 1024

// ErrClosed is returned after Close.
var ErrClosed = errors.New("recorder closed")

// Recorder is a bounded in-memory transcript. Once a session reaches the
// limit its oldest entries are evicted.
type Recorder struct {
	limit int

	mu       sync.Mutex
	sessions map[string][]transcript.Entry
	closed   bool
}

var _ transcript.Recorder = (*Recorder)(nil)

// New creates a Recorder. A non-positive limit selects DefaultLimit.
func New(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recorder{limit: limit, sessions: make(map[string][]transcript.Entry)}
}

func (r *Recorder) Record(ctx context.Context, e transcript.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	entries := append(r.sessions[e.SessionID], e)
	if over := len(entries) - r.limit; over > 0 {
		entries = append(entries[:0:0], entries[over:]...)
	}
	r.sessions[e.SessionID] = entries
	return nil
}

func (r *Recorder) Entries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	src := r.sessions[sessionID]
	out := make([]transcript.Entry, len(src))
	copy(out, src)
	return out, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.sessions = nil
	return nil
}
