package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverParsesOrganicResults(t *testing.T) {
	var gotKey string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"Acme Corp","link":"https://acme.example/about","snippet":"We make anvils","position":1},
			{"title":"Beta Inc","link":"https://beta.example","snippet":"Beta things"}
		]}`))
	}))
	defer srv.Close()

	s := Search{ApiKey: "key-123", BaseURL: srv.URL}
	results, err := s.Discover(context.Background(), "anvil makers in ohio", 10)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("X-API-KEY = %q, want key-123", gotKey)
	}
	if gotPayload["q"] != "anvil makers in ohio" {
		t.Errorf("payload q = %v", gotPayload["q"])
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "Acme Corp" || results[0].URL != "https://acme.example/about" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[0].Position != 1 {
		t.Errorf("first position = %d, want 1", results[0].Position)
	}
	// missing position falls back to list order
	if results[1].Position != 2 {
		t.Errorf("second position = %d, want 2", results[1].Position)
	}
}

func TestDiscoverTruncatesToRequestedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"a","link":"https://a.example"},
			{"title":"b","link":"https://b.example"},
			{"title":"c","link":"https://c.example"}
		]}`))
	}))
	defer srv.Close()

	s := Search{ApiKey: "k", BaseURL: srv.URL}
	results, err := s.Discover(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestDiscoverReportsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := Search{ApiKey: "bad", BaseURL: srv.URL}
	if _, err := s.Discover(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestDiscoverEmptyOrganicIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"organic":[]}`))
	}))
	defer srv.Close()

	s := Search{ApiKey: "k", BaseURL: srv.URL}
	results, err := s.Discover(context.Background(), "nothing matches this", 5)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
}
