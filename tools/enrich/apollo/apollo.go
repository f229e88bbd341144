// Package apollo implements contact enrichment against the Apollo.io
// REST API. Discovery returns obfuscated person stubs; the match
// endpoint resolves a stub to a full profile. When a match call fails
// the stub's partial data is returned instead, and the caller's quality
// filter decides whether that is still worth keeping.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mohammad-safakhou/leadgen/models"
)

const (
	defaultBaseURL = "https://api.apollo.io"
	defaultPerPage = 25

	searchPath = "/api/v1/mixed_people/api_search"
	matchPath  = "/api/v1/people/match"
)

type Client struct {
	ApiKey  string
	BaseURL string // overridable for tests
	PerPage int    // page size for discovery, defaults to 25

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *http.Client
}

type searchRequest struct {
	Domains     []string `json:"q_organization_domains_list"`
	Page        int      `json:"page"`
	PerPage     int      `json:"per_page"`
	Titles      []string `json:"person_titles,omitempty"`
	Seniorities []string `json:"person_seniorities,omitempty"`
	Locations   []string `json:"person_locations,omitempty"`
}

type searchResponse struct {
	People []person `json:"people"`
}

type matchRequest struct {
	ID string `json:"id"`
}

type matchResponse struct {
	Person *person `json:"person"`
}

type person struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Email        string        `json:"email"`
	EmailStatus  string        `json:"email_status"`
	Phone        string        `json:"phone"`
	Title        string        `json:"title"`
	Headline     string        `json:"headline"`
	LinkedInURL  string        `json:"linkedin_url"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	Country      string        `json:"country"`
	PhoneNumbers []phoneNumber `json:"phone_numbers"`
	Organization *organization `json:"organization"`
}

type phoneNumber struct {
	SanitizedNumber string `json:"sanitized_number"`
	RawNumber       string `json:"raw_number"`
}

type organization struct {
	Name               string `json:"name"`
	PrimaryDomain      string `json:"primary_domain"`
	Industry           string `json:"industry"`
	LinkedInURL        string `json:"linkedin_url"`
	EstimatedEmployees int    `json:"estimated_num_employees"`
	EmployeeRange      string `json:"employee_count_range"`
}

// DiscoverContacts searches people at a company domain, narrowed by the
// parsed query's titles, seniorities and locations when present.
func (c *Client) DiscoverContacts(ctx context.Context, domain string, q models.ParsedQuery) ([]models.ContactRef, error) {
	payload := searchRequest{
		Domains: []string{domain},
		Page:    1,
		PerPage: c.perPage(),
	}
	if len(q.JobTitles) > 0 {
		payload.Titles = q.JobTitles
	}
	if len(q.SeniorityLevels) > 0 {
		payload.Seniorities = q.SeniorityLevels
	}
	if len(q.Locations) > 0 {
		payload.Locations = q.Locations
	}

	var resp searchResponse
	if err := c.post(ctx, searchPath, payload, &resp); err != nil {
		return nil, err
	}

	refs := make([]models.ContactRef, 0, len(resp.People))
	for _, p := range resp.People {
		ref := models.ContactRef{
			ID:          p.ID,
			FirstName:   p.FirstName,
			Title:       p.Title,
			LinkedInURL: p.LinkedInURL,
			Domain:      domain,
		}
		if p.Organization != nil {
			ref.CompanyName = p.Organization.Name
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Detail resolves a discovery stub to a full contact via the match
// endpoint. A failed match falls back to the stub's partial data rather
// than erroring, since a named stub can still make a usable lead.
func (c *Client) Detail(ctx context.Context, ref models.ContactRef) (models.Contact, error) {
	if ref.ID == "" {
		return models.Contact{}, errors.New("contact stub has no id")
	}

	var resp matchResponse
	if err := c.post(ctx, matchPath, matchRequest{ID: ref.ID}, &resp); err != nil {
		return stubContact(ref), nil
	}
	if resp.Person == nil {
		return stubContact(ref), nil
	}

	p := resp.Person
	out := models.Contact{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		EmailStatus: p.EmailStatus,
		Phone:       bestPhone(p),
		Title:       p.Title,
		Headline:    p.Headline,
		LinkedInURL: p.LinkedInURL,
		City:        p.City,
		State:       p.State,
		Country:     p.Country,
	}
	out.CompanyDomain = ref.Domain
	if org := p.Organization; org != nil {
		out.CompanyName = org.Name
		if org.PrimaryDomain != "" {
			out.CompanyDomain = org.PrimaryDomain
		}
		out.CompanyIndustry = org.Industry
		out.CompanySize = companySize(org)
		out.CompanyLinkedInURL = org.LinkedInURL
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apollo API returned status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) perPage() int {
	if c.PerPage > 0 {
		return c.PerPage
	}
	return defaultPerPage
}

// stubContact builds the partial contact a discovery stub can support.
// Discovery obfuscates last names and emails, so only the first name,
// title, linkedin and company survive.
func stubContact(ref models.ContactRef) models.Contact {
	return models.Contact{
		FirstName:     ref.FirstName,
		EmailStatus:   "unavailable",
		Title:         ref.Title,
		LinkedInURL:   ref.LinkedInURL,
		CompanyName:   ref.CompanyName,
		CompanyDomain: ref.Domain,
	}
}

func bestPhone(p *person) string {
	for _, pn := range p.PhoneNumbers {
		if pn.SanitizedNumber != "" {
			return pn.SanitizedNumber
		}
		if pn.RawNumber != "" {
			return pn.RawNumber
		}
	}
	return p.Phone
}

func companySize(org *organization) string {
	if org.EstimatedEmployees > 0 {
		return strconv.Itoa(org.EstimatedEmployees)
	}
	return org.EmployeeRange
}
