// Package store persists users, runs, search results, leads and saved
// searches in Postgres. The orchestrator owns the authoritative in-flight run
// state; writes here are its durable mirror, so the poll endpoint can answer
// after a restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/leadgen/models"
)

// ErrSavedSearchNotFound is returned when a saved search is missing or owned
// by another user.
var ErrSavedSearchNotFound = errors.New("saved search not found")

type Store struct {
	DB *sql.DB
}

// New connects using the POSTGRES_* environment variables.
func New(ctx context.Context) (*Store, error) {
	host := getenvDefault("POSTGRES_HOST", "localhost")
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := getenvDefault("POSTGRES_USER", "leadgen")
	pass := getenvDefault("POSTGRES_PASSWORD", "leadgen")
	db := getenvDefault("POSTGRES_DB", "leadgen")
	ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	return NewWithDSN(ctx, dsn)
}

func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ensureSchema is a no-op; schema changes ship as migrations.
func (s *Store) ensureSchema(ctx context.Context) error { return nil }

// nullableString maps the empty string to NULL for nullable text columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- users ----

// CreateUser inserts an account and returns its id. Duplicate emails surface
// as a pq unique violation for the caller to translate.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, passwordHash).Scan(&id)
	return id, err
}

// GetUserByEmail returns the id and password hash for an email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	return id, hash, err
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.DB.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.CreatedAt)
	return u, err
}

// ---- runs ----

const runColumns = `id, user_id, status, message, progress_pct, result_count, query, sender_context, tone, channel, parsed_query, error, created_at, updated_at`

// CreateRun inserts a queued run and returns it with generated fields filled.
func (s *Store) CreateRun(ctx context.Context, run models.Run) (models.Run, error) {
	if run.Status == "" {
		run.Status = models.RunStatusPending
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO runs (user_id, query, sender_context, tone, channel, status, message)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id, created_at, updated_at
`, nullableString(run.UserID), run.Query, run.SenderContext, run.Tone, run.Channel, string(run.Status), run.Message).
		Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return models.Run{}, err
	}
	return run, nil
}

// UpdateRunState mirrors the orchestrator's in-memory run state. Progress
// never moves backwards and terminal rows are left untouched.
func (s *Store) UpdateRunState(ctx context.Context, runID string, status models.RunStatus, message string, progressPct float64, resultCount int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET
  status = $2,
  message = $3,
  progress_pct = GREATEST(progress_pct, $4),
  result_count = $5,
  updated_at = NOW()
WHERE id = $1 AND status NOT IN ('completed','failed')
`, runID, string(status), message, progressPct, resultCount)
	return err
}

// StoreParsedQuery attaches the parsed criteria JSON to a run.
func (s *Store) StoreParsedQuery(ctx context.Context, runID, parsedJSON string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET parsed_query = $2, updated_at = NOW() WHERE id = $1`, runID, nullableString(parsedJSON))
	return err
}

// FinishRun moves a run to a terminal status. A completed run always reads
// 100 percent regardless of the last mirrored progress value.
func (s *Store) FinishRun(ctx context.Context, runID string, status models.RunStatus, message string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET
  status = $2,
  message = $3,
  error = $4,
  progress_pct = CASE WHEN $2 = 'completed' THEN 100 ELSE progress_pct END,
  updated_at = NOW()
WHERE id = $1
`, runID, string(status), message, errMsg)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (models.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, models.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns a user's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// DeleteRun removes a user's run and everything cascaded to it.
func (s *Store) DeleteRun(ctx context.Context, runID, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE id = $1 AND user_id = $2`, runID, userID)
	if err != nil {
		return err
	}
	return affectedOrErr(res, models.ErrRunNotFound)
}

func scanRun(sc rowScanner) (models.Run, error) {
	var (
		run    models.Run
		userID sql.NullString
		parsed sql.NullString
		errMsg sql.NullString
	)
	err := sc.Scan(&run.ID, &userID, &run.Status, &run.Message, &run.ProgressPct, &run.ResultCount,
		&run.Query, &run.SenderContext, &run.Tone, &run.Channel, &parsed, &errMsg, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return models.Run{}, err
	}
	run.UserID = userID.String
	run.ParsedQuery = parsed.String
	run.Error = errMsg.String
	return run, nil
}

// ---- search results ----

// InsertSearchResults stores a run's deduplicated hits in one transaction and
// returns them with ids assigned.
func (s *Store) InsertSearchResults(ctx context.Context, runID string, results []models.SearchResult) ([]models.SearchResult, error) {
	if len(results) == 0 {
		return nil, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		r.RunID = runID
		err := tx.QueryRowContext(ctx, `
INSERT INTO search_results (run_id, title, url, snippet, domain, position)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, created_at
`, runID, r.Title, r.URL, r.Snippet, r.Domain, r.Position).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSearchResults returns a run's hits in ranking order.
func (s *Store) ListSearchResults(ctx context.Context, runID string) ([]models.SearchResult, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, run_id, title, url, snippet, domain, position, created_at
FROM search_results WHERE run_id = $1 ORDER BY position, created_at
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.Title, &r.URL, &r.Snippet, &r.Domain, &r.Position, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- leads ----

const leadColumns = `id, run_id, search_result_id, first_name, last_name, email, email_status, phone, title, headline, linkedin_url, city, state, country, company_name, company_domain, company_industry, company_size, company_linkedin_url, quality, scraped_context, outreach_subject, outreach_body, outreach_approach, is_selected, created_at, updated_at`

// InsertLead persists an accepted lead while the run is still executing, so
// partial results survive a failure later in the pipeline.
func (s *Store) InsertLead(ctx context.Context, lead models.Lead) (models.Lead, error) {
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO leads (run_id, search_result_id, first_name, last_name, email, email_status, phone, title, headline, linkedin_url, city, state, country, company_name, company_domain, company_industry, company_size, company_linkedin_url, quality, scraped_context, outreach_subject, outreach_body, outreach_approach, is_selected)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
RETURNING id, created_at, updated_at
`,
		lead.RunID,
		nullableString(lead.SearchResultID),
		lead.Contact.FirstName,
		lead.Contact.LastName,
		lead.Contact.Email,
		lead.Contact.EmailStatus,
		lead.Contact.Phone,
		lead.Contact.Title,
		lead.Contact.Headline,
		lead.Contact.LinkedInURL,
		lead.Contact.City,
		lead.Contact.State,
		lead.Contact.Country,
		lead.Contact.CompanyName,
		lead.Contact.CompanyDomain,
		lead.Contact.CompanyIndustry,
		lead.Contact.CompanySize,
		lead.Contact.CompanyLinkedInURL,
		lead.Quality,
		lead.ScrapedContext,
		lead.Outreach.Subject,
		lead.Outreach.Body,
		lead.Outreach.SuggestedApproach,
		lead.IsSelected,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return models.Lead{}, err
	}
	return lead, nil
}

// UpdateLeadOutreach replaces a lead's outreach draft.
func (s *Store) UpdateLeadOutreach(ctx context.Context, leadID string, o models.Outreach) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE leads SET outreach_subject = $2, outreach_body = $3, outreach_approach = $4, updated_at = NOW()
WHERE id = $1
`, leadID, o.Subject, o.Body, o.SuggestedApproach)
	if err != nil {
		return err
	}
	return affectedOrErr(res, models.ErrLeadNotFound)
}

// ListLeads returns a run's leads in the order they were accepted.
func (s *Store) ListLeads(ctx context.Context, runID string) ([]models.Lead, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

func (s *Store) GetLead(ctx context.Context, leadID string) (models.Lead, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lead{}, models.ErrLeadNotFound
	}
	return lead, err
}

// SetLeadSelected flips whether a lead is included in exports.
func (s *Store) SetLeadSelected(ctx context.Context, leadID string, selected bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE leads SET is_selected = $2, updated_at = NOW() WHERE id = $1`, leadID, selected)
	if err != nil {
		return err
	}
	return affectedOrErr(res, models.ErrLeadNotFound)
}

func scanLead(sc rowScanner) (models.Lead, error) {
	var (
		lead models.Lead
		srID sql.NullString
	)
	err := sc.Scan(
		&lead.ID, &lead.RunID, &srID,
		&lead.Contact.FirstName, &lead.Contact.LastName, &lead.Contact.Email, &lead.Contact.EmailStatus,
		&lead.Contact.Phone, &lead.Contact.Title, &lead.Contact.Headline, &lead.Contact.LinkedInURL,
		&lead.Contact.City, &lead.Contact.State, &lead.Contact.Country,
		&lead.Contact.CompanyName, &lead.Contact.CompanyDomain, &lead.Contact.CompanyIndustry,
		&lead.Contact.CompanySize, &lead.Contact.CompanyLinkedInURL,
		&lead.Quality, &lead.ScrapedContext,
		&lead.Outreach.Subject, &lead.Outreach.Body, &lead.Outreach.SuggestedApproach,
		&lead.IsSelected, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return models.Lead{}, err
	}
	lead.SearchResultID = srID.String
	return lead, nil
}

func affectedOrErr(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

// ---- saved searches ----

const savedSearchColumns = `id, user_id, name, query, sender_context, tone, channel, schedule_cron, last_run_at, created_at`

// CreateSavedSearch stores a reusable request, optionally with a schedule.
func (s *Store) CreateSavedSearch(ctx context.Context, rec models.SavedSearch) (models.SavedSearch, error) {
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO saved_searches (user_id, name, query, sender_context, tone, channel, schedule_cron)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id, created_at
`, rec.UserID, rec.Name, rec.Query, rec.SenderContext, rec.Tone, rec.Channel, rec.ScheduleCron).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return models.SavedSearch{}, err
	}
	return rec, nil
}

// ListSavedSearches returns a user's saved searches, newest first.
func (s *Store) ListSavedSearches(ctx context.Context, userID string) ([]models.SavedSearch, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+savedSearchColumns+` FROM saved_searches WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSavedSearches(rows)
}

// ListScheduledSearches returns every saved search with a cron expression,
// across all users, for the scheduler sweep.
func (s *Store) ListScheduledSearches(ctx context.Context) ([]models.SavedSearch, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+savedSearchColumns+` FROM saved_searches WHERE schedule_cron <> '' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSavedSearches(rows)
}

// TouchSavedSearch records when the scheduler last triggered a saved search.
func (s *Store) TouchSavedSearch(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE saved_searches SET last_run_at = $2 WHERE id = $1`, id, at)
	return err
}

// DeleteSavedSearch removes a user's saved search.
func (s *Store) DeleteSavedSearch(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM saved_searches WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return affectedOrErr(res, ErrSavedSearchNotFound)
}

func collectSavedSearches(rows *sql.Rows) ([]models.SavedSearch, error) {
	var out []models.SavedSearch
	for rows.Next() {
		var (
			rec     models.SavedSearch
			lastRun sql.NullTime
		)
		err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Query, &rec.SenderContext,
			&rec.Tone, &rec.Channel, &rec.ScheduleCron, &lastRun, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		if lastRun.Valid {
			t := lastRun.Time
			rec.LastRunAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- api credentials ----

// GetAPIKey returns the stored key for one service, or empty when the user
// has not saved one.
func (s *Store) GetAPIKey(ctx context.Context, userID, service string) (string, error) {
	var key string
	err := s.DB.QueryRowContext(ctx, `SELECT api_key FROM api_credentials WHERE user_id = $1 AND service = $2`, userID, service).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return key, err
}

// UpsertAPIKey saves or replaces a user's key for a service.
func (s *Store) UpsertAPIKey(ctx context.Context, userID, service, key string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO api_credentials (user_id, service, api_key)
VALUES ($1,$2,$3)
ON CONFLICT (user_id, service) DO UPDATE SET api_key = EXCLUDED.api_key, updated_at = NOW()
`, userID, service, key)
	return err
}

// DeleteAPIKey removes a stored key. Deleting a key that was never stored is
// not an error.
func (s *Store) DeleteAPIKey(ctx context.Context, userID, service string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM api_credentials WHERE user_id = $1 AND service = $2`, userID, service)
	return err
}

// ListAPIKeys returns every stored key for a user keyed by service.
func (s *Store) ListAPIKeys(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT service, api_key FROM api_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var service, key string
		if err := rows.Scan(&service, &key); err != nil {
			return nil, err
		}
		out[service] = key
	}
	return out, rows.Err()
}
