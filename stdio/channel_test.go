package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/toolpipe/transport"
)

// testHarness wires a Channel to in-memory pipes.
type testHarness struct {
	t      *testing.T
	ch     *Channel
	stdinW *io.PipeWriter
	stdout *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func newHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	opts = append([]Option{WithIO(inR, out), WithLogger(slog.Default())}, opts...)
	th := &testHarness{t: t, ch: New(opts...), stdinW: inW, stdout: out}

	t.Cleanup(func() {
		_ = th.ch.Close()
		_ = inW.Close()
	})
	return th
}

func (th *testHarness) start() {
	th.t.Helper()
	if err := th.ch.Start(); err != nil {
		th.t.Fatalf("start: %v", err)
	}
}

func (th *testHarness) write(s string) {
	th.t.Helper()
	if _, err := io.WriteString(th.stdinW, s); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) receive(timeout time.Duration) (transport.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return th.ch.Receive(ctx)
}

func (th *testHarness) mustReceive(timeout time.Duration) map[string]any {
	th.t.Helper()
	msg, err := th.receive(timeout)
	if err != nil {
		th.t.Fatalf("receive: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(msg, &v); err != nil {
		th.t.Fatalf("decode %q: %v", msg, err)
	}
	return v
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func expectCode(t *testing.T, err error, code transport.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := transport.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestPingPong(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write(`{"id":1,"op":"ping"}` + "\n")
	got := th.mustReceive(time.Second)
	if want := map[string]any{"id": float64(1), "op": "ping"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected message: %v", got)
	}

	if err := th.ch.Send(context.Background(), map[string]any{"id": 1, "result": "pong"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	lines := th.stdout.lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 output line, got %d", len(lines))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &out); err != nil {
		t.Fatal(err)
	}
	if want := map[string]any{"id": float64(1), "result": "pong"}; !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestReceive_BufferedInOrder(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write("{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n")
	waitFor(t, time.Second, func() bool { return th.ch.Stats().Delivered == 3 })

	if !th.ch.HasBufferedData() {
		t.Fatal("expected buffered data")
	}
	for i := 1; i <= 3; i++ {
		got := th.mustReceive(time.Second)
		if got["a"] != float64(i) {
			t.Fatalf("message %d out of order: %v", i, got)
		}
	}
	if th.ch.HasBufferedData() {
		t.Fatal("buffer should be drained")
	}
}

func TestReceive_WaitsForArrival(t *testing.T) {
	th := newHarness(t)
	th.start()

	res := make(chan map[string]any, 1)
	go func() {
		msg, err := th.receive(2 * time.Second)
		if err != nil {
			t.Errorf("receive: %v", err)
			return
		}
		var v map[string]any
		_ = json.Unmarshal(msg, &v)
		res <- v
	}()

	time.Sleep(20 * time.Millisecond)
	th.write(`{"first":true}` + "\n" + `{"second":true}` + "\n")

	select {
	case v := <-res:
		if v["first"] != true {
			t.Fatalf("expected first message, got %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not resolve")
	}
	if got := th.mustReceive(time.Second); got["second"] != true {
		t.Fatalf("expected second message, got %v", got)
	}
}

func TestReceive_DropsBlankAndInvalidLines(t *testing.T) {
	var mu sync.Mutex
	var bad []string
	th := newHarness(t, WithDecodeErrorHandler(func(line []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		bad = append(bad, string(line))
	}))
	th.start()

	th.write("\n   \n\t\n{not json\n{\"ok\":1}\n[1,2\n1 2\n{\"ok\":2}\r\n")

	if got := th.mustReceive(time.Second); got["ok"] != float64(1) {
		t.Fatalf("unexpected message: %v", got)
	}
	if got := th.mustReceive(time.Second); got["ok"] != float64(2) {
		t.Fatalf("unexpected message: %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"{not json", "[1,2", "1 2"}; !reflect.DeepEqual(bad, want) {
		t.Fatalf("decode hook saw %q, want %q", bad, want)
	}
	st := th.ch.Stats()
	if st.Delivered != 2 || st.Dropped != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestReceive_NonObjectValues(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write("42\n\"str\"\n[ 1, 2 ]\nnull\n")
	for _, want := range []string{`42`, `"str"`, `[1,2]`, `null`} {
		msg, err := th.receive(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if string(msg) != want {
			t.Fatalf("got %s, want %s", msg, want)
		}
	}
}

func TestReceive_LineTooLong(t *testing.T) {
	var hookErr error
	var mu sync.Mutex
	th := newHarness(t, WithMaxLineBytes(32), WithDecodeErrorHandler(func(line []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		hookErr = err
		if len(line) > 32 {
			t.Errorf("oversized line not truncated: %d bytes", len(line))
		}
	}))
	th.start()

	th.write(`{"pad":"` + strings.Repeat("x", 200) + `"}` + "\n" + `{"small":1}` + "\n")
	if got := th.mustReceive(time.Second); got["small"] != float64(1) {
		t.Fatalf("unexpected message: %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(hookErr, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", hookErr)
	}
}

func TestReceive_FinalUnterminatedLine(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write(`{"last":true}`)
	_ = th.stdinW.Close()

	if got := th.mustReceive(time.Second); got["last"] != true {
		t.Fatalf("unexpected message: %v", got)
	}
	_, err := th.receive(time.Second)
	expectCode(t, err, transport.CodeStdinClosed)
}

func TestReceive_InputClosedWhileSuspended(t *testing.T) {
	th := newHarness(t)
	th.start()

	errCh := make(chan error, 1)
	go func() {
		_, err := th.receive(5 * time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = th.stdinW.Close()

	select {
	case err := <-errCh:
		expectCode(t, err, transport.CodeStdinClosed)
		if !errors.Is(err, transport.ErrStdinClosed) {
			t.Fatalf("errors.Is should match sentinel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suspended receive hung after input closed")
	}
	if th.ch.IsRunning() {
		t.Fatal("channel should stop when input ends")
	}
}

func TestReceive_DrainsBufferAfterInputEnds(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write("{\"n\":1}\n{\"n\":2}\n")
	_ = th.stdinW.Close()
	waitFor(t, time.Second, func() bool { return !th.ch.IsRunning() })

	for i := 1; i <= 2; i++ {
		if got := th.mustReceive(time.Second); got["n"] != float64(i) {
			t.Fatalf("unexpected message: %v", got)
		}
	}
	_, err := th.receive(time.Second)
	expectCode(t, err, transport.CodeStdinClosed)

	// Input is gone for good.
	expectCode(t, th.ch.Start(), transport.CodeStdinUnavailable)
}

func TestNotStarted(t *testing.T) {
	th := newHarness(t)

	expectCode(t, th.ch.Send(context.Background(), map[string]any{"x": 1}), transport.CodeNotStarted)
	_, err := th.receive(time.Second)
	expectCode(t, err, transport.CodeNotStarted)

	th.start()
	th.ch.Stop()
	expectCode(t, th.ch.Send(context.Background(), map[string]any{"x": 1}), transport.CodeNotStarted)
	_, err = th.receive(time.Second)
	expectCode(t, err, transport.CodeNotStarted)
}

func TestStop_FailsSuspendedReceiveAndKeepsBuffer(t *testing.T) {
	th := newHarness(t)
	th.start()

	errCh := make(chan error, 1)
	go func() {
		_, err := th.receive(5 * time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	th.ch.Stop()

	select {
	case err := <-errCh:
		expectCode(t, err, transport.CodeNotStarted)
	case <-time.After(2 * time.Second):
		t.Fatal("suspended receive hung after stop")
	}

	// Lines arriving while stopped are buffered for the next start.
	th.write(`{"kept":1}` + "\n")
	waitFor(t, time.Second, th.ch.HasBufferedData)
	th.start()
	if got := th.mustReceive(time.Second); got["kept"] != float64(1) {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestClose_ClearsBufferAndDetaches(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write("{\"a\":1}\n{\"a\":2}\n")
	waitFor(t, time.Second, func() bool { return th.ch.Stats().Delivered == 2 })

	if err := th.ch.Close(); err != nil {
		t.Fatal(err)
	}
	if th.ch.HasBufferedData() {
		t.Fatal("close should clear buffered data")
	}
	_, err := th.receive(time.Second)
	expectCode(t, err, transport.CodeNotStarted)

	// Lines arriving while closed are discarded.
	th.write(`{"a":3}` + "\n")
	waitFor(t, time.Second, func() bool { return th.ch.Stats().Dropped == 1 })
	if th.ch.HasBufferedData() {
		t.Fatal("closed channel must not buffer")
	}

	// Idempotent.
	if err := th.ch.Close(); err != nil {
		t.Fatal(err)
	}

	th.start()
	th.write(`{"a":4}` + "\n")
	if got := th.mustReceive(time.Second); got["a"] != float64(4) {
		t.Fatalf("unexpected message after restart: %v", got)
	}
}

func TestClose_FailsSuspendedReceive(t *testing.T) {
	th := newHarness(t)
	th.start()

	errCh := make(chan error, 1)
	go func() {
		_, err := th.receive(5 * time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = th.ch.Close()

	select {
	case err := <-errCh:
		expectCode(t, err, transport.CodeNotStarted)
	case <-time.After(2 * time.Second):
		t.Fatal("suspended receive hung after close")
	}
}

func TestClose_ClosesInput(t *testing.T) {
	th := newHarness(t, WithCloseInput(true))
	th.start()

	if err := th.ch.Close(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		err := th.ch.Start()
		return transport.CodeOf(err) == transport.CodeStdinUnavailable
	})
}

func TestClearBuffer(t *testing.T) {
	th := newHarness(t)
	th.start()

	th.write("{\"a\":1}\n{\"a\":2}\n")
	waitFor(t, time.Second, func() bool { return th.ch.Stats().Delivered == 2 })
	th.ch.ClearBuffer()
	if th.ch.HasBufferedData() {
		t.Fatal("expected empty buffer")
	}

	th.write(`{"a":3}` + "\n")
	if got := th.mustReceive(time.Second); got["a"] != float64(3) {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestReceive_ContextCancelled(t *testing.T) {
	th := newHarness(t)
	th.start()

	_, err := th.receive(20 * time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The slot is released and later messages still arrive.
	th.write(`{"after":1}` + "\n")
	if got := th.mustReceive(time.Second); got["after"] != float64(1) {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestReceive_ConcurrentCallersSerialized(t *testing.T) {
	th := newHarness(t)
	th.start()

	const n = 8
	results := make(chan float64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := th.receive(5 * time.Second)
			if err != nil {
				t.Errorf("receive: %v", err)
				return
			}
			var v map[string]float64
			_ = json.Unmarshal(msg, &v)
			results <- v["i"]
		}()
	}

	for i := 0; i < n; i++ {
		th.write(`{"i":` + string(rune('0'+i)) + "}\n")
	}
	wg.Wait()
	close(results)

	seen := map[float64]bool{}
	for v := range results {
		if seen[v] {
			t.Fatalf("message %v delivered twice", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct messages, got %d", n, len(seen))
	}
}

func TestSend_RoundTrip(t *testing.T) {
	th := newHarness(t)
	th.start()

	values := []any{
		map[string]any{"text": "line one\nline two\r\n", "n": 1.5},
		[]any{"a", nil, true},
		"plain",
		json.RawMessage("{\n  \"pretty\": [1,\n 2]\n}"),
	}
	for _, v := range values {
		if err := th.ch.Send(context.Background(), v); err != nil {
			t.Fatalf("send %v: %v", v, err)
		}
	}

	lines := th.stdout.lines()
	if len(lines) != len(values) {
		t.Fatalf("expected %d lines, got %d: %q", len(values), len(lines), lines)
	}
	for i, v := range values {
		var want, got any
		b, _ := json.Marshal(v)
		_ = json.Unmarshal(b, &want)
		if err := json.Unmarshal([]byte(lines[i]), &got); err != nil {
			t.Fatalf("line %d not JSON: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("line %d: got %v, want %v", i, got, want)
		}
	}
	if th.ch.Stats().Sent != uint64(len(values)) {
		t.Fatalf("unexpected sent count: %+v", th.ch.Stats())
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestSend_Errors(t *testing.T) {
	boom := errors.New("boom")
	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })

	ch := New(WithIO(inR, failingWriter{err: boom}))
	if err := ch.Start(); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	err := ch.Send(context.Background(), map[string]any{"a": 1})
	expectCode(t, err, transport.CodeSendError)
	if !errors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}

	err = ch.Send(context.Background(), map[string]any{"ch": make(chan int)})
	expectCode(t, err, transport.CodeSendError)
	var ute *json.UnsupportedTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("marshal cause not preserved: %v", err)
	}
}

func TestStart_Unavailable(t *testing.T) {
	ch := New()
	ch.r = nil
	expectCode(t, ch.Start(), transport.CodeStdinUnavailable)
	if ch.IsRunning() {
		t.Fatal("failed start must not leave the channel running")
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Close()
	_ = r.Close()
	ch = New(WithReader(r))
	expectCode(t, ch.Start(), transport.CodeStdinUnavailable)
}

func TestStart_Idempotent(t *testing.T) {
	th := newHarness(t)
	th.start()
	th.start()

	th.write(`{"once":1}` + "\n")
	if got := th.mustReceive(time.Second); got["once"] != float64(1) {
		t.Fatalf("unexpected message: %v", got)
	}
	if th.ch.HasBufferedData() {
		t.Fatal("a second start must not spawn a second reader")
	}
}
