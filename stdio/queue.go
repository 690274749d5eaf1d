package stdio

import (
	"context"
	"sync"

	"github.com/ggoodman/toolpipe/transport"
)

type queueMode int

const (
	modeStopped queueMode = iota
	modeOpen
	modeEnded
)

// delivery is what a parked consumer is woken with.
type delivery struct {
	msg transport.Message
	err error
}

// queue is the rendezvous point between the line pump (producer) and
// Receive (consumer). It holds either buffered messages or one parked
// consumer, never both: push hands a message straight to a parked consumer
// and only buffers when nobody is waiting.
//
// The consumer slot is a capacity-1 channel. A caller must hold the token to
// inspect the buffer or park, so at most one consumer can ever be waiting;
// concurrent Receive calls line up on the token instead.
type queue struct {
	slot chan struct{}

	mu       sync.Mutex
	buf      []transport.Message
	waiter   chan delivery // set while the slot holder is parked
	mode     queueMode
	detached bool   // arrivals are discarded until the next open
	lost     uint64 // handed-off messages that came back after a detach
}

func newQueue() *queue {
	return &queue{slot: make(chan struct{}, 1)}
}

// open arms the queue for consumption and re-attaches it to the producer.
func (q *queue) open() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mode = modeOpen
	q.detached = false
}

// push delivers msg to the parked consumer or appends it to the buffer. It
// reports false when the queue is detached and the message was discarded.
func (q *queue) push(msg transport.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(msg)
}

func (q *queue) pushLocked(msg transport.Message) bool {
	if q.detached {
		return false
	}
	if w := q.waiter; w != nil {
		q.waiter = nil
		w <- delivery{msg: msg}
		return true
	}
	q.buf = append(q.buf, msg)
	return true
}

// pop returns the oldest buffered message or parks until one arrives, the
// input ends, the queue is halted or ctx is done.
func (q *queue) pop(ctx context.Context) (transport.Message, error) {
	select {
	case q.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-q.slot }()

	q.mu.Lock()
	if q.mode == modeStopped {
		q.mu.Unlock()
		return nil, transport.NewError("receive", transport.CodeNotStarted, nil)
	}
	if len(q.buf) > 0 {
		msg := q.buf[0]
		q.buf[0] = nil
		q.buf = q.buf[1:]
		q.mu.Unlock()
		return msg, nil
	}
	if q.mode == modeEnded {
		q.mu.Unlock()
		return nil, transport.NewError("receive", transport.CodeStdinClosed, nil)
	}
	w := make(chan delivery, 1)
	q.waiter = w
	q.mu.Unlock()

	select {
	case d := <-w:
		return d.msg, d.err
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.waiter == w {
		q.waiter = nil
		return nil, ctx.Err()
	}
	// A delivery raced the cancellation. Put a message back at the head so
	// ordering survives, unless the queue was detached in the meantime; a
	// termination error is simply superseded.
	if d := <-w; d.err == nil {
		if q.detached {
			q.lost++
		} else {
			q.buf = append([]transport.Message{d.msg}, q.buf...)
		}
	}
	return nil, ctx.Err()
}

// end marks the input as finished. A parked consumer fails with
// STDIN_CLOSED; buffered messages remain available.
func (q *queue) end() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mode != modeOpen {
		return
	}
	q.mode = modeEnded
	q.wake(transport.NewError("receive", transport.CodeStdinClosed, nil))
}

// halt stops consumption. A parked consumer fails with NOT_STARTED. When
// detach is set, later arrivals are discarded and the buffer is cleared.
func (q *queue) halt(detach bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.haltLocked(detach)
}

func (q *queue) haltLocked(detach bool) {
	q.mode = modeStopped
	if detach {
		q.detached = true
		q.buf = nil
	}
	q.wake(transport.NewError("receive", transport.CodeNotStarted, nil))
}

// wake must be called with q.mu held.
func (q *queue) wake(err error) {
	if w := q.waiter; w != nil {
		q.waiter = nil
		w <- delivery{err: err}
	}
}

func (q *queue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = nil
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// discarded reports how many handed-off messages were thrown away because
// the queue was detached before the consumer could take them.
func (q *queue) discarded() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lost
}
