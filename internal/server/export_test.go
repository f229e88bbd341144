package server

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/leadgen/models"
)

func TestExportFieldsResolvesTypes(t *testing.T) {
	cases := []struct {
		exportType string
		custom     []string
		want       int
	}{
		{"contacts", nil, 6},
		{"companies", nil, 6},
		{"contacts_companies", nil, 11},
		{"outreach", nil, 8},
		{"full", nil, len(exportFieldDefs)},
		{"custom", []string{"email", "company_name"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.exportType, func(t *testing.T) {
			fields, err := exportFields(tc.exportType, tc.custom)
			if err != nil {
				t.Fatalf("exportFields: %v", err)
			}
			if len(fields) != tc.want {
				t.Fatalf("expected %d fields, got %d", tc.want, len(fields))
			}
		})
	}
}

func TestExportFieldsRejectsBadInput(t *testing.T) {
	if _, err := exportFields("spreadsheet", nil); err == nil {
		t.Fatal("expected error for unknown export type")
	} else if !strings.Contains(err.Error(), "contacts") {
		t.Fatalf("error should list valid types, got %q", err)
	}
	if _, err := exportFields("custom", []string{"bogus", "also_bogus"}); err == nil {
		t.Fatal("expected error when no custom field resolves")
	}
}

func TestExportFieldsKeepsCustomOrder(t *testing.T) {
	fields, err := exportFields("custom", []string{"company_name", "first_name"})
	if err != nil {
		t.Fatalf("exportFields: %v", err)
	}
	if fields[0].key != "company_name" || fields[1].key != "first_name" {
		t.Fatalf("custom order not preserved: %q, %q", fields[0].key, fields[1].key)
	}
}

func TestExportCSVQuoting(t *testing.T) {
	lead := models.Lead{}
	lead.Contact.FirstName = "Ada"
	lead.Contact.CompanyName = `Anvils "R" Us`

	fields, err := exportFields("custom", []string{"first_name", "company_name"})
	if err != nil {
		t.Fatalf("exportFields: %v", err)
	}
	out := exportCSV([]models.Lead{lead}, fields)

	if !bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("expected UTF-8 BOM prefix")
	}
	body := string(out[3:])
	want := "\"First Name\",\"Company Name\"\r\n\"Ada\",\"Anvils \"\"R\"\" Us\"\r\n"
	if body != want {
		t.Fatalf("expected %q, got %q", want, body)
	}
}

func TestExportCSVHeaderOnlyWhenEmpty(t *testing.T) {
	fields, err := exportFields("contacts", nil)
	if err != nil {
		t.Fatalf("exportFields: %v", err)
	}
	out := exportCSV(nil, fields)
	if got := strings.Count(string(out), "\r\n"); got != 1 {
		t.Fatalf("expected header row only, got %d rows", got)
	}
}

func TestExportDescriptionTruncatesScrape(t *testing.T) {
	lead := models.Lead{ScrapedContext: strings.Repeat("x", 600)}
	lead.Contact.Headline = "VP Sales at Acme"

	got := leadDescription(lead)
	if !strings.HasPrefix(got, "VP Sales at Acme | ") {
		t.Fatalf("expected headline prefix, got %q", got)
	}
	if len(got) != len("VP Sales at Acme | ")+500 {
		t.Fatalf("expected scrape capped at 500 chars, got %d total", len(got))
	}
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if got := exportFilename("full", testRunID, now); got != "leads_full_5f0c1c77_20260314.csv" {
		t.Fatalf("unexpected filename %q", got)
	}
	if got := exportFilename("contacts", "abc", now); got != "leads_contacts_abc_20260314.csv" {
		t.Fatalf("short run id should not be truncated, got %q", got)
	}
}
