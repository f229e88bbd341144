package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/leadgen/models"
)

func TestCreateRunDefaultsToPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	query := regexp.QuoteMeta(`
INSERT INTO runs (user_id, query, sender_context, tone, channel, status, message)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id, created_at, updated_at
`)
	mock.ExpectQuery(query).
		WithArgs("user-1", "find CTOs at fintech startups in Berlin", "", "friendly", "email", "pending", "Pipeline is queued and will start shortly...").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("run-1", now, now))

	run, err := st.CreateRun(context.Background(), models.Run{
		UserID:  "user-1",
		Query:   "find CTOs at fintech startups in Berlin",
		Tone:    models.ToneFriendly,
		Channel: models.ChannelEmail,
		Message: "Pipeline is queued and will start shortly...",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID != "run-1" {
		t.Fatalf("expected generated id, got %q", run.ID)
	}
	if run.Status != models.RunStatusPending {
		t.Fatalf("expected pending status, got %q", run.Status)
	}
	if run.CreatedAt.IsZero() || run.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateRunStateLeavesTerminalRowsAlone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
UPDATE runs SET
  status = $2,
  message = $3,
  progress_pct = GREATEST(progress_pct, $4),
  result_count = $5,
  updated_at = NOW()
WHERE id = $1 AND status NOT IN ('completed','failed')
`)
	mock.ExpectExec(query).
		WithArgs("run-1", "searching", "Parsing your query and searching the web...", 15.0, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Zero affected rows means the run already reached a terminal status;
	// the mirror write is silently skipped, not an error.
	err = st.UpdateRunState(context.Background(), "run-1", models.RunStatusSearching, "Parsing your query and searching the web...", 15, 0)
	if err != nil {
		t.Fatalf("UpdateRunState: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRunRecordsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
UPDATE runs SET
  status = $2,
  message = $3,
  error = $4,
  progress_pct = CASE WHEN $2 = 'completed' THEN 100 ELSE progress_pct END,
  updated_at = NOW()
WHERE id = $1
`)
	mock.ExpectExec(query).
		WithArgs("run-1", "failed", "Pipeline encountered an error. Please try again.", "search provider unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	errMsg := "search provider unavailable"
	err = st.FinishRun(context.Background(), "run-1", models.RunStatusFailed, "Pipeline encountered an error. Please try again.", &errMsg)
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	mock.ExpectExec(query).
		WithArgs("run-2", "completed", "Pipeline completed successfully with 4 leads.", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FinishRun(context.Background(), "run-2", models.RunStatusCompleted, "Pipeline completed successfully with 4 leads.", nil); err != nil {
		t.Fatalf("FinishRun completed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunScansNullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	query := regexp.QuoteMeta(`SELECT ` + runColumns + ` FROM runs WHERE id = $1`)
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "status", "message", "progress_pct", "result_count",
			"query", "sender_context", "tone", "channel", "parsed_query", "error", "created_at", "updated_at",
		}).AddRow("run-1", nil, "completed", "Pipeline completed successfully with 3 leads.", 100.0, 3,
			"find CTOs", "", "friendly", "email", nil, nil, now, now))

	run, err := st.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.UserID != "" || run.ParsedQuery != "" || run.Error != "" {
		t.Fatalf("expected NULL columns to scan as empty strings, got %+v", run)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %q", run.Status)
	}
	if run.ResultCount != 3 {
		t.Fatalf("expected result count 3, got %d", run.ResultCount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunMissingMapsToNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`SELECT ` + runColumns + ` FROM runs WHERE id = $1`)
	mock.ExpectQuery(query).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err = st.GetRun(context.Background(), "missing")
	if !errors.Is(err, models.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRunScopedToOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`DELETE FROM runs WHERE id = $1 AND user_id = $2`)
	mock.ExpectExec(query).WithArgs("run-1", "someone-else").WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.DeleteRun(context.Background(), "run-1", "someone-else")
	if !errors.Is(err, models.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound for foreign run, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
