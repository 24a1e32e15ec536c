package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStream appends entries to a Redis stream, one XADD per entry.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStream writes to stream on client. maxLen > 0 caps the stream
// length; older entries are trimmed.
func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Write(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis audit marshal: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":         e.ID,
			"seq":        e.Seq,
			"kind":       string(e.Kind),
			"package_id": e.PackageID,
			"hash":       e.Hash,
			"entry":      string(body),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis audit xadd %s: %w", s.stream, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 reads the
// whole stream.
func (s *RedisStream) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	} else {
		msgs, err = s.client.XRevRange(ctx, s.stream, "+", "-").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis audit xrevrange %s: %w", s.stream, err)
	}
	return decodeMessages(msgs)
}

func decodeMessages(msgs []redis.XMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["entry"].(string)
		if !ok {
			return nil, fmt.Errorf("redis audit message %s: missing entry field", m.ID)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("redis audit message %s: %w", m.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the underlying client.
func (s *RedisStream) Close() error {
	return s.client.Close()
}
