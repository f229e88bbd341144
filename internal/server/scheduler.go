package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

// Scheduler sweeps saved searches with a cron expression and starts runs for
// the ones that are due.
type Scheduler struct {
	Store  *store.Store
	Orch   Pipeline
	Rdb    *redis.Client
	Stop   chan struct{}
	Logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	searches, err := s.Store.ListScheduledSearches(ctx)
	if err != nil {
		s.Logger.Printf("listing scheduled searches: %v", err)
		return
	}
	for _, rec := range searches {
		if !isDue(rec.ScheduleCron, rec.LastRunAt) {
			continue
		}

		// distributed lock so replicated servers fire each schedule once;
		// the key expires on its own
		if s.Rdb != nil {
			ok, err := s.Rdb.SetNX(ctx, "sched:lock:"+rec.ID, "1", 2*time.Minute).Result()
			if err != nil || !ok {
				continue
			}
		}

		run, err := s.Orch.StartRun(ctx, models.RunRequest{
			UserID:        rec.UserID,
			Query:         rec.Query,
			SenderContext: rec.SenderContext,
			Tone:          rec.Tone,
			Channel:       rec.Channel,
		})
		if err != nil {
			s.Logger.Printf("scheduled search %s: %v", rec.ID, err)
			continue
		}
		if err := s.Store.TouchSavedSearch(ctx, rec.ID, run.CreatedAt); err != nil {
			s.Logger.Printf("touching saved search %s: %v", rec.ID, err)
		}
		s.Logger.Printf("scheduled search %s started run %s", rec.ID, run.ID)
	}
}

// isDue determines if a schedule should fire now based on its last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// treat an invalid expression as @daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
