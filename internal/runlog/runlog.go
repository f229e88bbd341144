// Package runlog is the per-run progress feed: an append-only, sequence
// numbered event log that pollers resume from a cursor.
package runlog

import (
	"context"
	"time"
)

// Stage tags group entries by the pipeline phase that emitted them. Cancel
// and error are their own categories so the feed can distinguish an operator
// requested stop from a fault.
const (
	StageQuery    = "query"
	StageSearch   = "search"
	StageEnrich   = "enrich"
	StageGenerate = "generate"
	StageExport   = "export"
	StageCancel   = "cancel"
	StageError    = "error"
)

// Entry is one immutable log line. Seq is assigned at append time: 0-based
// and contiguous per run, with no gaps regardless of how many goroutines
// append concurrently.
type Entry struct {
	Seq       int64     `json:"seq"`
	Stage     string    `json:"stage"`
	Emoji     string    `json:"emoji,omitempty"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Log stores per-run entries. Runs are fully isolated from each other;
// appends within one run are linearized.
type Log interface {
	// Append stores e for the run, assigns the next sequence number and
	// returns it. A zero Timestamp is stamped with the current time.
	Append(ctx context.Context, runID string, e Entry) (int64, error)

	// ReadFrom returns, in order, every entry with Seq > afterSeq. A cursor
	// at or beyond the tail yields an empty slice, not an error. Pass -1 to
	// read from the start.
	ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]Entry, error)

	// Len returns the number of entries appended for the run so far.
	Len(ctx context.Context, runID string) (int64, error)

	// Clear drops the run's entries.
	Clear(ctx context.Context, runID string) error
}
