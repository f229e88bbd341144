// Package pipeline runs the lead generation flow for a single request: parse
// the natural language query, search the web, enrich contacts, and generate
// outreach drafts. Each run executes as a background task owned by the
// Orchestrator and is observable while in flight through a status snapshot
// plus a cursor-addressable progress log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/internal/leadindex"
	"github.com/mohammad-safakhou/leadgen/internal/runlog"
	"github.com/mohammad-safakhou/leadgen/internal/telemetry"
	"github.com/mohammad-safakhou/leadgen/models"
)

var (
	// ErrInvalidRequest reports a run request that fails validation.
	ErrInvalidRequest = errors.New("invalid run request")
	// ErrRunFinished reports a cancel attempt on a run that already reached a
	// terminal status.
	ErrRunFinished = errors.New("run already finished")
	// ErrRunActive reports an operation that requires the run to be finished,
	// such as regenerating a single lead's outreach.
	ErrRunActive = errors.New("run is still processing")
)

// errCanceled marks a run stopped by user request, as opposed to a fault.
var errCanceled = errors.New("run canceled")

// Storage is the slice of the persistence layer the orchestrator writes
// through. *store.Store satisfies it.
type Storage interface {
	CreateRun(ctx context.Context, run models.Run) (models.Run, error)
	UpdateRunState(ctx context.Context, runID string, status models.RunStatus, message string, progressPct float64, resultCount int) error
	StoreParsedQuery(ctx context.Context, runID, parsedJSON string) error
	FinishRun(ctx context.Context, runID string, status models.RunStatus, message string, errMsg *string) error
	GetRun(ctx context.Context, runID string) (models.Run, error)
	InsertSearchResults(ctx context.Context, runID string, results []models.SearchResult) ([]models.SearchResult, error)
	InsertLead(ctx context.Context, lead models.Lead) (models.Lead, error)
	UpdateLeadOutreach(ctx context.Context, leadID string, outreach models.Outreach) error
	GetLead(ctx context.Context, leadID string) (models.Lead, error)
}

// running tracks one in-flight run. The run field is the authoritative
// snapshot while the run is processing; the store row trails it.
type running struct {
	run        models.Run
	softCancel context.CancelFunc
	hardCancel context.CancelFunc
	canceled   bool
}

// Orchestrator owns every in-flight run. Runs execute on their own goroutine;
// all cross-goroutine state lives behind mu.
type Orchestrator struct {
	cfg       *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	log       runlog.Log
	store     Storage
	index     *leadindex.Index
	tools     ToolsetBuilder

	mu         sync.RWMutex
	processing map[string]*running
}

func New(cfg *config.Config, store Storage, progressLog runlog.Log, index *leadindex.Index, tools ToolsetBuilder, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		telemetry:  tel,
		log:        progressLog,
		store:      store,
		index:      index,
		tools:      tools,
		processing: make(map[string]*running),
	}
}

// StartRun validates the request, persists a pending run, and spawns the
// background task that drives it to a terminal status. The returned Run is
// the pending snapshot; callers poll Status for progress.
func (o *Orchestrator) StartRun(ctx context.Context, req models.RunRequest) (models.Run, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return models.Run{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if req.Tone == "" {
		req.Tone = models.ToneFriendly
	}
	if req.Channel == "" {
		req.Channel = models.ChannelEmail
	}
	if !models.ValidTone(req.Tone) {
		return models.Run{}, fmt.Errorf("%w: unknown tone %q", ErrInvalidRequest, req.Tone)
	}
	if !models.ValidChannel(req.Channel) {
		return models.Run{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, req.Channel)
	}

	run, err := o.store.CreateRun(ctx, models.Run{
		UserID:        req.UserID,
		Status:        models.RunStatusPending,
		Message:       statusMessage(models.RunStatusPending),
		Query:         req.Query,
		SenderContext: req.SenderContext,
		Tone:          req.Tone,
		Channel:       req.Channel,
	})
	if err != nil {
		return models.Run{}, fmt.Errorf("creating run: %w", err)
	}

	// The run outlives the request context. hardCtx bounds the whole task;
	// softCtx is the cancellation token observed at every suspension point,
	// so user cancellation stops dispatch while in-flight work drains under
	// hardCtx until the grace period expires.
	hardCtx, hardCancel := context.WithTimeout(context.Background(), timeoutOr(o.cfg.Pipeline.RunTimeout, 15*time.Minute))
	softCtx, softCancel := context.WithCancel(hardCtx)

	ent := &running{run: run, softCancel: softCancel, hardCancel: hardCancel}
	o.mu.Lock()
	o.processing[run.ID] = ent
	o.mu.Unlock()

	o.telemetry.RunStarted()
	go o.processRun(softCtx, hardCtx, ent)

	return run, nil
}

// Status returns the freshest run snapshot plus every progress entry with
// sequence greater than afterSeq. In-flight runs answer from memory; finished
// or restarted-over runs fall back to the store.
func (o *Orchestrator) Status(ctx context.Context, runID string, afterSeq int64) (models.Run, []runlog.Entry, error) {
	o.mu.RLock()
	ent, ok := o.processing[runID]
	var run models.Run
	if ok {
		run = ent.run
	}
	o.mu.RUnlock()

	if !ok {
		var err error
		run, err = o.store.GetRun(ctx, runID)
		if err != nil {
			return models.Run{}, nil, err
		}
	}

	entries, err := o.log.ReadFrom(ctx, runID, afterSeq)
	if err != nil {
		return models.Run{}, nil, fmt.Errorf("reading progress log: %w", err)
	}
	return run, entries, nil
}

// Running reports whether the run is still processing.
func (o *Orchestrator) Running(runID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.processing[runID]
	return ok
}

// Cancel requests a stop for an in-flight run owned by userID. The run stops
// issuing new work immediately and finalizes as failed once in-flight items
// drain or the grace period expires. Runs belonging to another user are
// reported as not found rather than leaking their existence.
func (o *Orchestrator) Cancel(ctx context.Context, runID, userID string) error {
	o.mu.Lock()
	ent, ok := o.processing[runID]
	if ok {
		if userID != "" && ent.run.UserID != userID {
			o.mu.Unlock()
			return models.ErrRunNotFound
		}
		already := ent.canceled
		ent.canceled = true
		soft, hard := ent.softCancel, ent.hardCancel
		o.mu.Unlock()
		if already {
			return nil
		}
		soft()
		time.AfterFunc(timeoutOr(o.cfg.Pipeline.CancelGrace, 5*time.Second), hard)
		o.appendLog(ctx, runID, runlog.StageCancel, "🛑", "Cancellation requested - stopping new work and draining in-flight items", "")
		return nil
	}
	o.mu.Unlock()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if userID != "" && run.UserID != userID {
		return models.ErrRunNotFound
	}
	return ErrRunFinished
}

// Forget drops a run's progress log and search index entries. Callers delete
// the store row themselves; Forget only clears the volatile side.
func (o *Orchestrator) Forget(ctx context.Context, runID string) {
	if err := o.log.Clear(ctx, runID); err != nil {
		o.logger.Printf("run %s: clearing progress log: %v", runID, err)
	}
	if err := o.index.DropRun(runID); err != nil {
		o.logger.Printf("run %s: dropping index entries: %v", runID, err)
	}
}

// RegenerateOutreach rewrites the outreach draft for a single lead of a
// finished run and persists the replacement.
func (o *Orchestrator) RegenerateOutreach(ctx context.Context, leadID, userID string) (models.Lead, error) {
	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		return models.Lead{}, err
	}
	run, err := o.store.GetRun(ctx, lead.RunID)
	if err != nil {
		return models.Lead{}, err
	}
	if userID != "" && run.UserID != userID {
		return models.Lead{}, models.ErrLeadNotFound
	}
	if o.Running(run.ID) {
		return models.Lead{}, ErrRunActive
	}

	tools, err := o.tools.Build(ctx, run.UserID)
	if err != nil {
		return models.Lead{}, err
	}

	gctx, cancel := context.WithTimeout(ctx, timeoutOr(o.cfg.LLM.Timeout, o.cfg.Pipeline.StageTimeout))
	defer cancel()
	outreach, err := tools.Provider.GenerateOutreach(gctx, lead, models.RunRequest{
		UserID:        run.UserID,
		Query:         run.Query,
		SenderContext: run.SenderContext,
		Tone:          run.Tone,
		Channel:       run.Channel,
	})
	if err != nil {
		return models.Lead{}, fmt.Errorf("generating outreach: %w", err)
	}
	if err := o.store.UpdateLeadOutreach(ctx, leadID, outreach); err != nil {
		return models.Lead{}, err
	}
	lead.Outreach = outreach
	if err := o.index.Add(run.ID, lead); err != nil {
		o.logger.Printf("run %s: reindexing lead %s: %v", run.ID, leadID, err)
	}
	return lead, nil
}

// setState clamps progress against the in-memory snapshot, updates it, and
// mirrors the result to the store. Progress never moves backwards even when
// late fan-out bookkeeping lands out of order.
func (o *Orchestrator) setState(ctx context.Context, runID string, status models.RunStatus, message string, pct float64, count int) {
	o.mu.Lock()
	if ent, ok := o.processing[runID]; ok {
		if pct < ent.run.ProgressPct {
			pct = ent.run.ProgressPct
		}
		ent.run.Status = status
		ent.run.Message = message
		ent.run.ProgressPct = pct
		ent.run.ResultCount = count
		ent.run.UpdatedAt = time.Now()
	}
	o.mu.Unlock()

	if err := o.store.UpdateRunState(ctx, runID, status, message, pct, count); err != nil {
		o.logger.Printf("run %s: mirroring state: %v", runID, err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, runID, stage, emoji, message, detail string) {
	if _, err := o.log.Append(ctx, runID, runlog.Entry{Stage: stage, Emoji: emoji, Message: message, Detail: detail}); err != nil {
		o.logger.Printf("run %s: appending progress entry: %v", runID, err)
	}
}

// finishRun writes the terminal store row and releases the in-memory entry.
// It runs on a fresh context because the run's own may already be dead.
func (o *Orchestrator) finishRun(runID string, status models.RunStatus, message string, errMsg *string) {
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.FinishRun(fctx, runID, status, message, errMsg); err != nil {
		o.logger.Printf("run %s: finalizing: %v", runID, err)
	}

	o.mu.Lock()
	delete(o.processing, runID)
	o.mu.Unlock()
}

// interrupted translates a done cancellation token into the reason it fired:
// user cancellation or the run-level deadline.
func (o *Orchestrator) interrupted(soft context.Context, ent *running) error {
	if soft.Err() == nil {
		return nil
	}
	o.mu.RLock()
	userCancel := ent.canceled
	o.mu.RUnlock()
	if userCancel {
		return errCanceled
	}
	return fmt.Errorf("run exceeded the configured time limit: %w", soft.Err())
}

func statusMessage(s models.RunStatus) string {
	switch s {
	case models.RunStatusPending:
		return "Pipeline is queued and will start shortly..."
	case models.RunStatusSearching:
		return "Parsing your query and searching the web..."
	case models.RunStatusEnriching:
		return "Enriching contacts with company data..."
	case models.RunStatusGenerating:
		return "Generating personalized emails..."
	case models.RunStatusFailed:
		return "Pipeline encountered an error. Please try again."
	default:
		return ""
	}
}

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
