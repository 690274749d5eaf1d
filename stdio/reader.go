package stdio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ErrLineTooLong is passed to the decode error hook for lines over the limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// DecodeErrorHandler observes input lines that were dropped because they
// could not be decoded. line is truncated for oversized input.
type DecodeErrorHandler func(line []byte, err error)

// LogDecodeErrors returns a DecodeErrorHandler that logs dropped lines at
// warn level. At most 256 bytes of each line are logged.
func LogDecodeErrors(l *slog.Logger) DecodeErrorHandler {
	return func(line []byte, err error) {
		if len(line) > 256 {
			line = line[:256]
		}
		l.Warn("stdio.decode.drop", slog.String("err", err.Error()), slog.String("line", string(line)))
	}
}

// pump reads lines until the input ends and feeds the queue.
func (c *Channel) pump() {
	br := bufio.NewReader(c.r)
	for {
		line, tooLong, err := readLine(br, c.maxLine)
		// A final line without a terminator still counts as complete.
		if err == nil || tooLong || len(line) > 0 {
			c.linesRead.Add(1)
			if tooLong {
				c.drop(line, ErrLineTooLong)
			} else {
				c.handleLine(line)
			}
		}
		if err != nil {
			c.inputEnded(err)
			return
		}
	}
}

func (c *Channel) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, line); err != nil {
		c.drop(line, err)
		return
	}
	if !c.q.push(buf.Bytes()) {
		c.dropped.Add(1)
		return
	}
	c.delivered.Add(1)
}

func (c *Channel) drop(line []byte, err error) {
	c.dropped.Add(1)
	if c.onDecodeError != nil {
		c.onDecodeError(line, err)
	}
}

func (c *Channel) inputEnded(err error) {
	c.mu.Lock()
	c.inputDone = true
	c.mu.Unlock()

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		c.l.Debug("stdio.input.eof")
	} else {
		c.l.Warn("stdio.input.error", slog.String("err", err.Error()))
	}
	c.Lifecycle.Stop()
	c.q.end()
}

// readLine reads one '\n'-terminated line without the terminator. Lines
// longer than max are consumed in full and reported with tooLong set and a
// truncated prefix. A non-nil error means no further lines follow; line may
// still hold a final unterminated line.
func readLine(br *bufio.Reader, max int) (line []byte, tooLong bool, err error) {
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > max {
				tooLong = true
				n := max - len(line)
				if n > len(frag) {
					n = len(frag)
				}
				line = append(line, frag[:n]...)
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == nil && !tooLong {
			line = line[:len(line)-1]
		}
		if err != nil && !errors.Is(err, io.EOF) {
			err = fmt.Errorf("read input: %w", err)
		}
		return line, tooLong, err
	}
}
