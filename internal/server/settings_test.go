package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/internal/credentials"
	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

func TestSettingsListMasksKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT service, api_key FROM api_credentials WHERE user_id = $1`)).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"service", "api_key"}).
			AddRow(models.ServiceOpenAI, "sk-1234567890"))

	cfg := &config.Config{}
	cfg.Search.SerperAPIKey = "srp-abcdef-xyz"
	st := &store.Store{DB: db}
	h := &SettingsHandler{Store: st, Creds: credentials.NewResolver(cfg, st)}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", testUserID)

	if err := h.list(ctx); err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp SettingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	want := map[string]string{
		models.ServiceOpenAI: "sk-...890",
		models.ServiceSerper: "srp...xyz",
		models.ServiceBrave:  "",
		models.ServiceApollo: "",
	}
	for service, masked := range want {
		if resp.Keys[service] != masked {
			t.Errorf("%s: expected %q, got %q", service, masked, resp.Keys[service])
		}
	}
	if strings.Contains(rec.Body.String(), "sk-1234567890") {
		t.Fatal("raw key leaked into the response")
	}
	// the config fallback must not issue per-service store lookups
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettingsUpdateKeysRejectsUnknownService(t *testing.T) {
	h := &SettingsHandler{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/keys", strings.NewReader(`{"mystery":"k"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", testUserID)

	err := h.updateKeys(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 http error, got %#v", err)
	}
}

func TestSettingsDeleteKeyRejectsUnknownService(t *testing.T) {
	h := &SettingsHandler{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/settings/keys/mystery", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", testUserID)
	ctx.SetParamNames("service")
	ctx.SetParamValues("mystery")

	err := h.deleteKey(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 http error, got %#v", err)
	}
}

func TestSettingsTestKeyNotConfigured(t *testing.T) {
	h := &SettingsHandler{Creds: credentials.NewResolver(&config.Config{}, nil)}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/settings/test/serper", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", testUserID)
	ctx.SetParamNames("service")
	ctx.SetParamValues(models.ServiceSerper)

	if err := h.testKey(ctx); err != nil {
		t.Fatalf("testKey returned error: %v", err)
	}
	var resp KeyTestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if resp.Status != "invalid" || !strings.Contains(resp.Message, "not configured") {
		t.Fatalf("unexpected verdict: %+v", resp)
	}
}

func TestSettingsTestKeyAgainstLiveEndpoint(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		_, _ = w.Write([]byte(`{"organic":[]}`))
	}))
	defer srv.Close()

	h := &SettingsHandler{
		Creds:     credentials.NewResolver(keysConfig(), nil),
		Client:    srv.Client(),
		SerperURL: srv.URL,
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/settings/test/serper", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", testUserID)
	ctx.SetParamNames("service")
	ctx.SetParamValues(models.ServiceSerper)

	if err := h.testKey(ctx); err != nil {
		t.Fatalf("testKey returned error: %v", err)
	}
	var resp KeyTestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if resp.Status != "valid" {
		t.Fatalf("unexpected verdict: %+v", resp)
	}
	if gotKey != "srp-test-key" {
		t.Fatalf("expected configured key sent, got %q", gotKey)
	}
}

func TestSettingsTestKeyReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid API key"}`))
	}))
	defer srv.Close()

	h := &SettingsHandler{
		Creds:     credentials.NewResolver(keysConfig(), nil),
		Client:    srv.Client(),
		SerperURL: srv.URL,
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/settings/test/serper", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", testUserID)
	ctx.SetParamNames("service")
	ctx.SetParamValues(models.ServiceSerper)

	if err := h.testKey(ctx); err != nil {
		t.Fatalf("testKey returned error: %v", err)
	}
	var resp KeyTestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if resp.Status != "invalid" || !strings.Contains(resp.Message, "HTTP 401") {
		t.Fatalf("unexpected verdict: %+v", resp)
	}
}
