package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/leadgen/internal/runlog"
)

// Log keeps every run's entries in process memory. Each run has its own
// bucket with its own mutex; the outer map lock is held only for bucket
// lookup/create so appenders on different runs never serialize on each other.
type Log struct {
	mu   sync.RWMutex
	runs map[string]*bucket
}

type bucket struct {
	mu      sync.Mutex
	entries []runlog.Entry
}

func New() *Log {
	return &Log{runs: make(map[string]*bucket)}
}

func (l *Log) bucketFor(runID string) *bucket {
	l.mu.RLock()
	b, ok := l.runs[runID]
	l.mu.RUnlock()
	if ok {
		return b
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.runs[runID]; ok {
		return b
	}
	b = &bucket{}
	l.runs[runID] = b
	return b
}

func (l *Log) Append(_ context.Context, runID string, e runlog.Entry) (int64, error) {
	b := l.bucketFor(runID)
	b.mu.Lock()
	defer b.mu.Unlock()
	e.Seq = int64(len(b.entries))
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.entries = append(b.entries, e)
	return e.Seq, nil
}

func (l *Log) ReadFrom(_ context.Context, runID string, afterSeq int64) ([]runlog.Entry, error) {
	l.mu.RLock()
	b, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := afterSeq + 1
	if start < 0 {
		start = 0
	}
	if start >= int64(len(b.entries)) {
		return nil, nil
	}
	out := make([]runlog.Entry, len(b.entries)-int(start))
	copy(out, b.entries[start:])
	return out, nil
}

func (l *Log) Len(_ context.Context, runID string) (int64, error) {
	l.mu.RLock()
	b, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.entries)), nil
}

func (l *Log) Clear(_ context.Context, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.runs, runID)
	return nil
}
