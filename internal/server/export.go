package server

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/leadgen/models"
)

// Export types supported by the leads CSV download. The column sets are
// shaped for direct import into HubSpot and similar CRMs.
const (
	exportTypeContacts          = "contacts"
	exportTypeCompanies         = "companies"
	exportTypeContactsCompanies = "contacts_companies"
	exportTypeOutreach          = "outreach"
	exportTypeFull              = "full"
	exportTypeCustom            = "custom"
)

type exportField struct {
	key    string
	header string
	value  func(models.Lead) string
}

// exportFieldDefs maps internal field keys to CSV header names and extractors.
// Order here is the column order of the full export.
var exportFieldDefs = []exportField{
	{"first_name", "First Name", func(l models.Lead) string { return l.Contact.FirstName }},
	{"last_name", "Last Name", func(l models.Lead) string { return l.Contact.LastName }},
	{"email", "Email", func(l models.Lead) string { return l.Contact.Email }},
	{"phone", "Phone Number", func(l models.Lead) string { return l.Contact.Phone }},
	{"job_title", "Job Title", func(l models.Lead) string { return l.Contact.Title }},
	{"linkedin_url", "LinkedIn URL", func(l models.Lead) string { return l.Contact.LinkedInURL }},
	{"company_name", "Company Name", func(l models.Lead) string { return l.Contact.CompanyName }},
	{"company_domain", "Company Domain Name", func(l models.Lead) string { return l.Contact.CompanyDomain }},
	{"website_url", "Website URL", func(l models.Lead) string {
		if l.Contact.CompanyDomain == "" {
			return ""
		}
		return "https://" + l.Contact.CompanyDomain
	}},
	{"industry", "Industry", func(l models.Lead) string { return l.Contact.CompanyIndustry }},
	{"company_size", "Number of Employees", func(l models.Lead) string { return l.Contact.CompanySize }},
	{"company_linkedin_url", "Company LinkedIn URL", func(l models.Lead) string { return l.Contact.CompanyLinkedInURL }},
	{"description", "Description", leadDescription},
	{"city", "City", func(l models.Lead) string { return l.Contact.City }},
	{"state", "State/Region", func(l models.Lead) string { return l.Contact.State }},
	{"country", "Country/Region", func(l models.Lead) string { return l.Contact.Country }},
	{"street_address", "Street Address", func(models.Lead) string { return "" }},
	{"email_subject", "Email Subject", func(l models.Lead) string { return l.Outreach.Subject }},
	{"personalized_email", "Personalized Email Draft", func(l models.Lead) string { return l.Outreach.Body }},
	{"suggested_approach", "Suggested Approach", func(l models.Lead) string { return l.Outreach.SuggestedApproach }},
}

var exportFieldByKey = func() map[string]exportField {
	m := make(map[string]exportField, len(exportFieldDefs))
	for _, f := range exportFieldDefs {
		m[f.key] = f
	}
	return m
}()

// exportTypeKeys holds the ordered field keys for each export type.
var exportTypeKeys = map[string][]string{
	exportTypeContacts: {
		"first_name", "last_name", "email", "phone", "job_title", "linkedin_url",
	},
	exportTypeCompanies: {
		"company_name", "company_domain", "website_url", "industry",
		"company_size", "company_linkedin_url",
	},
	exportTypeContactsCompanies: {
		"first_name", "last_name", "email", "phone", "job_title", "linkedin_url",
		"company_name", "company_domain", "website_url", "industry",
		"company_size",
	},
	exportTypeOutreach: {
		"first_name", "last_name", "email", "job_title", "company_name",
		"email_subject", "personalized_email", "suggested_approach",
	},
	exportTypeFull: func() []string {
		keys := make([]string, len(exportFieldDefs))
		for i, f := range exportFieldDefs {
			keys[i] = f.key
		}
		return keys
	}(),
}

func leadDescription(l models.Lead) string {
	parts := make([]string, 0, 2)
	if l.Contact.Headline != "" {
		parts = append(parts, l.Contact.Headline)
	}
	if ctx := l.ScrapedContext; ctx != "" {
		if len(ctx) > 500 {
			ctx = ctx[:500]
		}
		parts = append(parts, ctx)
	}
	return strings.Join(parts, " | ")
}

// exportFields resolves an export type, plus the caller's key list for the
// custom type, into the ordered column set.
func exportFields(exportType string, custom []string) ([]exportField, error) {
	if exportType == exportTypeCustom {
		fields := make([]exportField, 0, len(custom))
		for _, key := range custom {
			if f, ok := exportFieldByKey[key]; ok {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("no valid fields for custom export")
		}
		return fields, nil
	}
	keys, ok := exportTypeKeys[exportType]
	if !ok {
		valid := make([]string, 0, len(exportTypeKeys)+1)
		for t := range exportTypeKeys {
			valid = append(valid, t)
		}
		valid = append(valid, exportTypeCustom)
		sort.Strings(valid)
		return nil, fmt.Errorf("invalid export type, must be one of: %s", strings.Join(valid, ", "))
	}
	fields := make([]exportField, len(keys))
	for i, key := range keys {
		fields[i] = exportFieldByKey[key]
	}
	return fields, nil
}

// exportCSV renders leads as CSV bytes with a UTF-8 BOM so Excel opens the
// file cleanly. Every cell is quoted, matching what CRM importers expect.
func exportCSV(leads []models.Lead, fields []exportField) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	record := make([]string, len(fields))
	for i, f := range fields {
		record[i] = f.header
	}
	writeQuotedRecord(&buf, record)

	for _, lead := range leads {
		for i, f := range fields {
			record[i] = f.value(lead)
		}
		writeQuotedRecord(&buf, record)
	}
	return buf.Bytes()
}

func writeQuotedRecord(buf *bytes.Buffer, record []string) {
	for i, cell := range record {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteString("\r\n")
}

func exportFilename(exportType, runID string, now time.Time) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("leads_%s_%s_%s.csv", exportType, short, now.Format("20060102"))
}
