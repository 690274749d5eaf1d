// Package redis provides a transcript.Recorder backed by Redis Streams. Each
// session is one capped stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ggoodman/toolpipe/transcript"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis recorder.
type Config struct {
	// Client is the Redis client to use. If nil, a client for Addr is created.
	Client redis.UniversalClient
	// Addr is used when Client is nil. Defaults to "localhost:6379".
	Addr string
	// KeyPrefix is prepended to all Redis keys. Defaults to "toolpipe:".
	KeyPrefix string
	// MaxLen caps each session stream (approximately). Defaults to 10000.
	MaxLen int64
	// TTL expires idle session streams. Zero disables expiry.
	TTL time.Duration
}

// Recorder writes transcript entries to Redis Streams.
type Recorder struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	ttl       time.Duration
}

var _ transcript.Recorder = (*Recorder)(nil)

// New creates a Recorder and verifies the server is reachable.
func New(ctx context.Context, cfg Config) (*Recorder, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := &Recorder{client: client, keyPrefix: cfg.KeyPrefix, maxLen: cfg.MaxLen, ttl: cfg.TTL}
	if r.keyPrefix == "" {
		r.keyPrefix = "toolpipe:"
	}
	if r.maxLen <= 0 {
		r.maxLen = 10000
	}
	return r, nil
}

func (r *Recorder) streamKey(sessionID string) string {
	return r.keyPrefix + "transcript:" + sessionID
}

// Record appends e to the session stream.
func (r *Recorder) Record(ctx context.Context, e transcript.Entry) error {
	key := r.streamKey(e.SessionID)
	pipe := r.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"dir":  string(e.Direction),
			"at":   e.At.UTC().Format(time.RFC3339Nano),
			"data": string(e.Data),
		},
	})
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record transcript entry: %w", err)
	}
	return nil
}

// Entries reads the whole session stream.
func (r *Recorder) Entries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	msgs, err := r.client.XRange(ctx, r.streamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	out := make([]transcript.Entry, 0, len(msgs))
	for _, m := range msgs {
		e := transcript.Entry{SessionID: sessionID}
		if v, ok := m.Values["dir"].(string); ok {
			e.Direction = transcript.Direction(v)
		}
		if v, ok := m.Values["at"].(string); ok {
			at, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("entry %s: invalid timestamp: %w", m.ID, err)
			}
			e.At = at
		}
		if v, ok := m.Values["data"].(string); ok {
			e.Data = json.RawMessage(v)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close closes the Redis connection.
func (r *Recorder) Close() error {
	return r.client.Close()
}
