// Package transcripttest provides a conformance suite for transcript.Recorder
// implementations.
package transcripttest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/toolpipe/transcript"
)

// Factory returns a fresh Recorder for a subtest. Session ids used by the
// suite are unique per run, so backends may share state across calls.
type Factory func(t *testing.T) transcript.Recorder

// RunRecorderTests exercises the behavior every Recorder must provide.
func RunRecorderTests(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("RecordAndReadInOrder", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		sid := uniqueSession("order")

		at := time.Now().UTC().Truncate(time.Millisecond)
		for i := 0; i < 3; i++ {
			dir := transcript.Inbound
			if i%2 == 1 {
				dir = transcript.Outbound
			}
			e := transcript.Entry{
				SessionID: sid,
				Direction: dir,
				At:        at.Add(time.Duration(i) * time.Millisecond),
				Data:      json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			}
			if err := r.Record(ctx, e); err != nil {
				t.Fatalf("record %d: %v", i, err)
			}
		}

		got, err := r.Entries(ctx, sid)
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(got))
		}
		for i, e := range got {
			if string(e.Data) != fmt.Sprintf(`{"n":%d}`, i) {
				t.Fatalf("entry %d out of order: %s", i, e.Data)
			}
			if e.SessionID != sid {
				t.Fatalf("entry %d has session %q", i, e.SessionID)
			}
			if !e.At.Equal(at.Add(time.Duration(i) * time.Millisecond)) {
				t.Fatalf("entry %d timestamp mismatch: %s", i, e.At)
			}
		}
		if got[1].Direction != transcript.Outbound || got[0].Direction != transcript.Inbound {
			t.Fatalf("directions not preserved: %+v", got)
		}
	})

	t.Run("SessionsAreIsolated", func(t *testing.T) {
		r := factory(t)
		ctx := context.Background()
		a, b := uniqueSession("a"), uniqueSession("b")

		if err := r.Record(ctx, transcript.Entry{SessionID: a, Direction: transcript.Inbound, At: time.Now(), Data: json.RawMessage(`1`)}); err != nil {
			t.Fatal(err)
		}
		got, err := r.Entries(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no entries for other session, got %d", len(got))
		}
	})

	t.Run("UnknownSessionIsEmpty", func(t *testing.T) {
		r := factory(t)
		got, err := r.Entries(context.Background(), uniqueSession("unknown"))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty transcript, got %d", len(got))
		}
	})
}

func uniqueSession(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
