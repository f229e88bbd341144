package server

import (
	"errors"
	"io"
	"log"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

func TestIsDue(t *testing.T) {
	stale := time.Now().Add(-25 * time.Hour)
	twoHoursAgo := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-10 * time.Minute)
	justNow := time.Now()

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"daily never run", "@daily", nil, true},
		{"daily ran recently", "@daily", &twoHoursAgo, false},
		{"daily ran yesterday", "@daily", &stale, true},
		{"hourly never run", "@hourly", nil, true},
		{"hourly ran recently", "@hourly", &recent, false},
		{"hourly ran two hours ago", "@hourly", &twoHoursAgo, true},
		{"cron never run", "*/5 * * * *", nil, true},
		{"cron fired since last run", "* * * * *", &twoHoursAgo, true},
		{"cron next fire still ahead", "0 0 1 1 *", &justNow, false},
		{"garbage spec acts daily", "every tuesday", &twoHoursAgo, false},
		{"garbage spec acts daily when stale", "every tuesday", &stale, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Fatalf("isDue(%q, %v) = %v, want %v", tc.spec, tc.last, got, tc.want)
			}
		})
	}
}

func TestSchedulerTickStartsOnlyDueSearches(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := time.Now().Add(-10 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, name, query, sender_context, tone, channel, schedule_cron, last_run_at, created_at FROM saved_searches WHERE schedule_cron <> '' ORDER BY created_at`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "query", "sender_context", "tone", "channel", "schedule_cron", "last_run_at", "created_at"}).
			AddRow(testSearchID, testUserID, "weekly ctos", "find CTOs in fintech", "we sell anvils", models.ToneFriendly, models.ChannelEmail, "@daily", nil, created).
			AddRow("0d7e5c3a-1b2f-4e6d-8a9c-5f4e3d2c1b0a", testUserID, "hourly vps", "find VPs of sales", "", models.ToneDirect, models.ChannelLinkedIn, "@hourly", recent, created))

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE saved_searches SET last_run_at = $2 WHERE id = $1`)).
		WithArgs(testSearchID, started).
		WillReturnResult(sqlmock.NewResult(0, 1))

	orch := &stubPipeline{startRun: models.Run{ID: testRunID, CreatedAt: started}}
	s := &Scheduler{
		Store:  &store.Store{DB: db},
		Orch:   orch,
		Logger: log.New(io.Discard, "", 0),
	}
	s.tick()

	if orch.startReq.Query != "find CTOs in fintech" {
		t.Fatalf("tick started %q, want only the due search", orch.startReq.Query)
	}
	if orch.startReq.UserID != testUserID || orch.startReq.SenderContext != "we sell anvils" ||
		orch.startReq.Tone != models.ToneFriendly || orch.startReq.Channel != models.ChannelEmail {
		t.Fatalf("run request %+v dropped saved search fields", orch.startReq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSchedulerTickSurvivesStartFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, name, query, sender_context, tone, channel, schedule_cron, last_run_at, created_at FROM saved_searches WHERE schedule_cron <> '' ORDER BY created_at`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "query", "sender_context", "tone", "channel", "schedule_cron", "last_run_at", "created_at"}).
			AddRow(testSearchID, testUserID, "weekly ctos", "find CTOs", "", models.ToneFriendly, models.ChannelEmail, "@daily", nil, created))

	orch := &stubPipeline{startErr: errors.New("provider unavailable")}
	s := &Scheduler{
		Store:  &store.Store{DB: db},
		Orch:   orch,
		Logger: log.New(io.Discard, "", 0),
	}
	s.tick()

	// the search must not be touched when the run never started
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
