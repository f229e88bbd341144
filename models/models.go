package models

import (
	"errors"
	"strings"
	"time"
)

// ErrRunNotFound is returned when a pipeline run is not found
var ErrRunNotFound = errors.New("run not found")

// ErrLeadNotFound is returned when a lead is not found
var ErrLeadNotFound = errors.New("lead not found")

type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusSearching  RunStatus = "searching"
	RunStatusEnriching  RunStatus = "enriching"
	RunStatusGenerating RunStatus = "generating"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one execution of the lead generation pipeline. The orchestrator owns
// the authoritative in-flight copy; the store keeps the durable one.
type Run struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	Status        RunStatus `json:"status"`
	Message       string    `json:"message"`
	ProgressPct   float64   `json:"progress_pct"`
	ResultCount   int       `json:"result_count"`
	Query         string    `json:"query"`
	SenderContext string    `json:"sender_context,omitempty"`
	Tone          string    `json:"tone"`
	Channel       string    `json:"channel"`
	ParsedQuery   string    `json:"parsed_query,omitempty"` // JSON blob of ParsedQuery
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunRequest is the caller-supplied input that starts a run.
type RunRequest struct {
	UserID        string `json:"-"`
	Query         string `json:"query"`
	SenderContext string `json:"sender_context"`
	Tone          string `json:"tone"`
	Channel       string `json:"channel"`
}

const (
	ToneDirect   = "direct"
	ToneFriendly = "friendly"
	ToneFormal   = "formal"
	ToneBold     = "bold"

	ChannelEmail    = "email"
	ChannelLinkedIn = "linkedin"
	ChannelSocialDM = "social_dm"
)

func ValidTone(t string) bool {
	switch t {
	case ToneDirect, ToneFriendly, ToneFormal, ToneBold:
		return true
	}
	return false
}

func ValidChannel(c string) bool {
	switch c {
	case ChannelEmail, ChannelLinkedIn, ChannelSocialDM:
		return true
	}
	return false
}

// ParsedQuery is the structured criteria the query parser extracts from a
// natural language request.
type ParsedQuery struct {
	SearchQueries   []string `json:"search_queries"`
	JobTitles       []string `json:"job_titles"`
	SeniorityLevels []string `json:"seniority_levels"`
	Locations       []string `json:"locations"`
	Industry        string   `json:"industry"`
	CompanySize     string   `json:"company_size"`
	MaxResults      int      `json:"max_results"`
}

// SearchResult is one deduplicated web search hit for a run.
type SearchResult struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet"`
	Domain    string    `json:"domain"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// PageContent is the extracted content of one fetched page.
type PageContent struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	MetaDescription string `json:"meta_description"`
	Text            string `json:"text"`
	Status          int    `json:"status"`
	FetchMS         int    `json:"fetch_ms"`
}

// Context joins the page fields into the single context string stored on leads.
func (p PageContent) Context() string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(p.Title); t != "" {
		parts = append(parts, t)
	}
	if d := strings.TrimSpace(p.MetaDescription); d != "" {
		parts = append(parts, d)
	}
	if txt := strings.TrimSpace(p.Text); txt != "" {
		if len(txt) > 500 {
			txt = txt[:500]
		}
		parts = append(parts, txt)
	}
	return strings.Join(parts, " | ")
}

// ContactRef is an obfuscated person stub returned by contact discovery,
// carrying enough to request full detail plus a partial fallback.
type ContactRef struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	Title       string `json:"title"`
	LinkedInURL string `json:"linkedin_url"`
	Domain      string `json:"domain"`
	CompanyName string `json:"company_name"`
}

// Contact is a fully enriched person at a company.
type Contact struct {
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Email              string `json:"email"`
	EmailStatus        string `json:"email_status"`
	Phone              string `json:"phone"`
	Title              string `json:"title"`
	Headline           string `json:"headline"`
	LinkedInURL        string `json:"linkedin_url"`
	City               string `json:"city"`
	State              string `json:"state"`
	Country            string `json:"country"`
	CompanyName        string `json:"company_name"`
	CompanyDomain      string `json:"company_domain"`
	CompanyIndustry    string `json:"company_industry"`
	CompanySize        string `json:"company_size"`
	CompanyLinkedInURL string `json:"company_linkedin_url"`
}

type LeadQuality string

const (
	QualityHigh   LeadQuality = "high"
	QualityMedium LeadQuality = "medium"
	QualitySkip   LeadQuality = "skip"
)

// Quality rates a contact for the pipeline's filter: high needs name, email
// and title; medium needs a name plus either a contact handle or a title;
// anything without a name and without a handle is skipped.
func (c Contact) Quality() LeadQuality {
	hasName := strings.TrimSpace(c.FirstName) != "" || strings.TrimSpace(c.LastName) != ""
	hasContact := strings.TrimSpace(c.Email) != "" || strings.TrimSpace(c.LinkedInURL) != ""
	hasTitle := strings.TrimSpace(c.Title) != ""

	switch {
	case !hasName && !hasContact:
		return QualitySkip
	case hasName && strings.TrimSpace(c.Email) != "" && hasTitle:
		return QualityHigh
	case hasName && hasContact:
		return QualityMedium
	case hasName && hasTitle:
		return QualityMedium
	default:
		return QualitySkip
	}
}

// Outreach is a generated draft for one lead.
type Outreach struct {
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	SuggestedApproach string `json:"suggested_approach"`
}

// Lead is an accepted contact persisted for a run, progressively appended
// while the run is still executing.
type Lead struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	SearchResultID string    `json:"search_result_id,omitempty"`
	Contact        Contact   `json:"contact"`
	Quality        string    `json:"quality,omitempty"`
	ScrapedContext string    `json:"scraped_context,omitempty"`
	Outreach       Outreach  `json:"outreach"`
	IsSelected     bool      `json:"is_selected"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DisplayName is the best human label for a lead: person name, else company.
func (l Lead) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(l.Contact.FirstName) + " " + strings.TrimSpace(l.Contact.LastName))
	if name != "" {
		return name
	}
	if l.Contact.CompanyName != "" {
		return l.Contact.CompanyName
	}
	return "lead"
}

// User is an authenticated account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedSearch is a reusable request, optionally on a cron schedule.
type SavedSearch struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	Query         string     `json:"query"`
	SenderContext string     `json:"sender_context,omitempty"`
	Tone          string     `json:"tone"`
	Channel       string     `json:"channel"`
	ScheduleCron  string     `json:"schedule_cron,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// External service identifiers for credential storage and resolution.
const (
	ServiceOpenAI = "openai"
	ServiceSerper = "serper"
	ServiceBrave  = "brave"
	ServiceApollo = "apollo"
)

func KnownService(s string) bool {
	switch s {
	case ServiceOpenAI, ServiceSerper, ServiceBrave, ServiceApollo:
		return true
	}
	return false
}
