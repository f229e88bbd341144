package redislog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/leadgen/internal/runlog"
)

// Log stores each run's entries in a Redis list. RPUSH returns the new list
// length, so the list index doubles as the sequence number and appends from
// concurrent workers are linearized by the server.
type Log struct {
	client *redis.Client
}

func New(client *redis.Client) *Log {
	return &Log{client: client}
}

func key(runID string) string { return fmt.Sprintf("runlog:%s", runID) }

func (l *Log) Append(ctx context.Context, runID string, e runlog.Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal log entry: %w", err)
	}
	length, err := l.client.RPush(ctx, key(runID), data).Result()
	if err != nil {
		return 0, fmt.Errorf("append log entry: %w", err)
	}
	return length - 1, nil
}

func (l *Log) ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]runlog.Entry, error) {
	start := afterSeq + 1
	if start < 0 {
		start = 0
	}
	raw, err := l.client.LRange(ctx, key(runID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	out := make([]runlog.Entry, 0, len(raw))
	for i, item := range raw {
		var e runlog.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		// The list position is authoritative for the sequence number.
		e.Seq = start + int64(i)
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (l *Log) Len(ctx context.Context, runID string) (int64, error) {
	n, err := l.client.LLen(ctx, key(runID)).Result()
	if err != nil {
		return 0, fmt.Errorf("log length: %w", err)
	}
	return n, nil
}

func (l *Log) Clear(ctx context.Context, runID string) error {
	return l.client.Del(ctx, key(runID)).Err()
}
