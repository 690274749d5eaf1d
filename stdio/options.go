package stdio

import (
	"io"
	"log/slog"
)

// DefaultMaxLineBytes bounds a single input line, terminator included.
const DefaultMaxLineBytes = 16 << 20

// Option customizes a Channel.
type Option func(*Channel)

// WithIO sets the reader and writer for the channel.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(c *Channel) {
		if r != nil {
			c.r = r
		}
		if w != nil {
			c.w = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(c *Channel) {
		if r != nil {
			c.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(c *Channel) {
		if w != nil {
			c.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.l = l
		}
	}
}

// WithDecodeErrorHandler installs a hook invoked for every non-blank input
// line that is not valid JSON or exceeds the line limit. The line is dropped
// either way; the default hook does nothing.
func WithDecodeErrorHandler(fn DecodeErrorHandler) Option {
	return func(c *Channel) {
		if fn != nil {
			c.onDecodeError = fn
		}
	}
}

// WithMaxLineBytes caps the length of a single input line. Longer lines are
// reported to the decode error hook and dropped.
func WithMaxLineBytes(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxLine = n
		}
	}
}

// WithCloseInput makes Close also close the input stream when it implements
// io.Closer, which unblocks the line pump immediately.
func WithCloseInput(enabled bool) Option {
	return func(c *Channel) { c.closeInput = enabled }
}
