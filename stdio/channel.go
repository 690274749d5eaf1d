package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/toolpipe/transport"
)

// Channel is a line-delimited JSON transport over an io.Reader / io.Writer
// pair, by default os.Stdin and os.Stdout.
//
// A single pump goroutine, spawned by the first successful Start, reads
// lines and pushes decoded messages into a rendezvous queue; Receive pulls
// from that queue. The pump lives until the input ends.
type Channel struct {
	transport.Lifecycle

	r io.Reader
	w io.Writer
	l *slog.Logger

	onDecodeError DecodeErrorHandler
	maxLine       int
	closeInput    bool

	q *queue

	mu        sync.Mutex // guards pumping and inputDone
	pumping   bool
	inputDone bool

	wmu sync.Mutex // serializes writes

	linesRead atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	sent      atomic.Uint64
}

var _ transport.Transport = (*Channel)(nil)

// Stats is a snapshot of channel counters.
type Stats struct {
	LinesRead uint64 // complete lines read from the input, blank ones included
	Delivered uint64 // messages handed to the queue
	Dropped   uint64 // lines that were invalid, too long or arrived while closed
	Sent      uint64 // messages written to the output
}

// New constructs a stdio Channel with defaults and applies options. The
// channel is stopped until Start is called.
func New(opts ...Option) *Channel {
	c := &Channel{
		r:       os.Stdin,
		w:       os.Stdout,
		l:       slog.Default(),
		maxLine: DefaultMaxLineBytes,
		q:       newQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start verifies the input stream is readable, transitions to running and
// attaches the line pump. Starting a running channel is a no-op. Once the
// input has ended the channel cannot be started again.
func (c *Channel) Start() error {
	if err := c.checkInput(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputDone {
		return transport.Errorf("start", transport.CodeStdinUnavailable, "input stream ended")
	}

	c.Lifecycle.Start()
	c.q.open()
	if !c.pumping {
		c.pumping = true
		go c.pump()
		c.l.Debug("stdio.start", slog.Int("max_line_bytes", c.maxLine))
	}
	return nil
}

func (c *Channel) checkInput() error {
	if c.r == nil {
		return transport.Errorf("start", transport.CodeStdinUnavailable, "no input stream")
	}
	if f, ok := c.r.(*os.File); ok {
		if _, err := f.Stat(); err != nil {
			return transport.NewError("start", transport.CodeStdinUnavailable, err)
		}
	}
	return nil
}

// Stop transitions to stopped. Buffered messages and the pump are kept, so
// a later Start resumes where the stream left off. A suspended Receive fails
// with NOT_STARTED.
func (c *Channel) Stop() {
	c.Lifecycle.Stop()
	c.q.halt(false)
}

// Close stops the channel, detaches the queue from the pump so further lines
// are discarded, drops buffered messages and fails any suspended Receive.
// Closing a closed channel only re-asserts the stopped state.
func (c *Channel) Close() error {
	c.Lifecycle.Stop()
	c.q.halt(true)
	if !c.closeInput {
		return nil
	}
	if rc, ok := c.r.(io.Closer); ok {
		if err := rc.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("close input: %w", err)
		}
	}
	return nil
}

// Send encodes v as a single JSON line and writes it to the output. Encoding
// escapes newlines inside strings, so the payload never spans lines.
func (c *Channel) Send(ctx context.Context, v any) error {
	if !c.IsRunning() {
		return transport.NewError("send", transport.CodeNotStarted, nil)
	}
	if err := ctx.Err(); err != nil {
		return transport.NewError("send", transport.CodeSendError, err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return transport.NewError("send", transport.CodeSendError, fmt.Errorf("marshal: %w", err))
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.w == nil {
		return transport.Errorf("send", transport.CodeSendError, "no output stream")
	}
	if _, err := c.w.Write(b); err != nil {
		return transport.NewError("send", transport.CodeSendError, fmt.Errorf("write: %w", err))
	}
	c.sent.Add(1)
	return nil
}

// Receive returns the next message in arrival order. When nothing is
// buffered it blocks until a message arrives, the input ends (STDIN_CLOSED),
// the channel is stopped or closed (NOT_STARTED) or ctx is done. Messages
// buffered before the input ended are still returned first.
//
// Concurrent callers are served one at a time.
func (c *Channel) Receive(ctx context.Context) (transport.Message, error) {
	return c.q.pop(ctx)
}

// HasBufferedData reports whether messages are waiting to be received.
func (c *Channel) HasBufferedData() bool { return c.q.len() > 0 }

// ClearBuffer discards buffered messages without delivering them.
func (c *Channel) ClearBuffer() { c.q.reset() }

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		LinesRead: c.linesRead.Load(),
		Delivered: c.delivered.Load(),
		Dropped:   c.dropped.Load() + c.q.discarded(),
		Sent:      c.sent.Load(),
	}
}
