package server

import (
	"github.com/mohammad-safakhou/leadgen/internal/runlog"
	"github.com/mohammad-safakhou/leadgen/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// RunCreateRequest starts a lead generation run from a natural language query.
type RunCreateRequest struct {
	Query         string `json:"query"`
	SenderContext string `json:"sender_context"`
	Tone          string `json:"tone"`
	Channel       string `json:"channel"`
}

// MissingKeysResponse rejects a run because required provider keys are absent.
type MissingKeysResponse struct {
	Error       string   `json:"error"`
	MissingKeys []string `json:"missing_keys"`
	Message     string   `json:"message"`
}

// RunStatusResponse is the poll answer: the run snapshot plus every progress
// entry after the caller's cursor.
type RunStatusResponse struct {
	models.Run
	Logs []runlog.Entry `json:"logs"`
}

// LeadSelectionRequest toggles whether a lead is included in exports.
type LeadSelectionRequest struct {
	IsSelected *bool `json:"is_selected"`
}

// LeadEmailRequest edits the generated outreach draft of a lead. Nil fields
// keep their current value.
type LeadEmailRequest struct {
	Subject *string `json:"subject"`
	Body    *string `json:"body"`
}

// SettingsResponse lists every known service with its masked key. Services
// without a stored or configured key map to the empty string.
type SettingsResponse struct {
	Keys map[string]string `json:"keys"`
}

// KeyTestResponse reports the outcome of a live API key check.
type KeyTestResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"` // valid or invalid
	Message string `json:"message"`
}

// SavedSearchRequest creates a reusable, optionally scheduled search.
type SavedSearchRequest struct {
	Name          string `json:"name"`
	Query         string `json:"query"`
	SenderContext string `json:"sender_context"`
	Tone          string `json:"tone"`
	Channel       string `json:"channel"`
	ScheduleCron  string `json:"schedule_cron"`
}
