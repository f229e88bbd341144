package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/internal/helpers"
	"github.com/mohammad-safakhou/leadgen/internal/telemetry"
	"github.com/mohammad-safakhou/leadgen/models"
)

const (
	defaultBaseURL = "https://api.openai.com"

	parseTemperature    = 0.3
	generateTemperature = 0.7
)

// client implements the provider interface using OpenAI's API
type client struct {
	apiKey        string
	baseURL       string
	parseModel    string
	generateModel string
	maxTokens     int
	costPer1KIn   float64
	costPer1KOut  float64
	httpClient    *http.Client
	telemetry     *telemetry.Telemetry
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a new OpenAI client. The key is passed separately
// because stored user credentials override the configured one.
func NewOpenAIClient(apiKey string, cfg config.LLMConfig, tel *telemetry.Telemetry) *client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &client{
		apiKey:        apiKey,
		baseURL:       baseURL,
		parseModel:    cfg.ParseModel,
		generateModel: cfg.GenerateModel,
		maxTokens:     cfg.MaxTokens,
		costPer1KIn:   cfg.CostPer1KInput,
		costPer1KOut:  cfg.CostPer1KOutput,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		telemetry:     tel,
	}
}

const parseSystemPrompt = `You are a lead generation query parser. Given a natural language query about finding business leads,
extract the following structured information as JSON:

{
  "search_queries": ["list of Google search queries to find relevant companies/people"],
  "job_titles": ["list of target job titles"],
  "seniority_levels": ["list like 'senior', 'manager', 'director', 'vp', 'c_suite'"],
  "locations": ["list of target geographic locations"],
  "industry": "the primary target industry, or empty string",
  "company_size": "a company size range like '11-50', or empty string",
  "max_results": 0
}

Generate 2-4 diverse Google search queries that would help find companies and decision-makers matching the request.
Set max_results only if the query states how many leads are wanted, otherwise leave it 0.
Always respond with valid JSON only, no markdown formatting.`

// ParseQuery extracts structured search criteria from a natural language
// lead request. A transport failure or unparseable reply is an error; the
// caller decides what a usable-but-sparse result means.
func (c *client) ParseQuery(ctx context.Context, rawQuery string) (models.ParsedQuery, error) {
	messages := []Message{
		{Role: "system", Content: parseSystemPrompt},
		{Role: "user", Content: rawQuery},
	}

	content, err := c.sendRequest(ctx, c.parseModel, parseTemperature, messages)
	if err != nil {
		return models.ParsedQuery{}, err
	}

	raw, err := helpers.ExtractJSON(content)
	if err != nil {
		return models.ParsedQuery{}, fmt.Errorf("failed to parse criteria: %w", err)
	}
	var parsed models.ParsedQuery
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return models.ParsedQuery{}, fmt.Errorf("failed to parse criteria: %w", err)
	}
	return parsed, nil
}

const outreachSystemPrompt = `You are an expert B2B sales copywriter. Write personalized, compelling outreach
that feels genuine and not spammy. Focus on value proposition and relevance to the recipient's role.

Respond with valid JSON only:
{
  "subject": "Subject line (empty string for channels without one)",
  "body": "Full message body text",
  "suggested_approach": "Brief strategy note about why this approach works for this lead"
}

Keep messages concise (3-4 paragraphs max for email, shorter for LinkedIn and DMs).
Use the lead's name and company details naturally.
Do not use markdown formatting in the JSON values.`

// GenerateOutreach writes one personalized draft for a lead, honoring the
// run's channel and tone.
func (c *client) GenerateOutreach(ctx context.Context, lead models.Lead, req models.RunRequest) (models.Outreach, error) {
	sender := req.SenderContext
	if sender == "" {
		sender = "Not provided"
	}

	userPrompt := fmt.Sprintf(`Original search intent: %s

Sender context: %s

Channel: %s
Tone: %s

%s

Write a personalized %s outreach message for this lead.`,
		req.Query, sender, req.Channel, req.Tone, leadInfo(lead), req.Channel)

	messages := []Message{
		{Role: "system", Content: outreachSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	content, err := c.sendRequest(ctx, c.generateModel, generateTemperature, messages)
	if err != nil {
		return models.Outreach{}, err
	}

	raw, err := helpers.ExtractJSON(content)
	if err != nil {
		return models.Outreach{}, fmt.Errorf("failed to parse draft: %w", err)
	}
	var out models.Outreach
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.Outreach{}, fmt.Errorf("failed to parse draft: %w", err)
	}
	return out, nil
}

// leadInfo renders the lead facts block fed to the model. Scraped context
// is capped so one long page cannot crowd out the rest of the prompt.
func leadInfo(lead models.Lead) string {
	contact := lead.Contact
	title := contact.Title
	if title == "" {
		title = "Unknown"
	}
	company := contact.CompanyName
	if company == "" {
		company = "Unknown"
	}
	industry := contact.CompanyIndustry
	if industry == "" {
		industry = "Unknown"
	}
	linkedin := contact.LinkedInURL
	if linkedin == "" {
		linkedin = "N/A"
	}
	scraped := lead.ScrapedContext
	if scraped == "" {
		scraped = "N/A"
	}
	if len(scraped) > 1000 {
		scraped = scraped[:1000]
	}

	return fmt.Sprintf(`Lead Information:
- Name: %s %s
- Title: %s
- Company: %s
- Industry: %s
- Location: %s, %s, %s
- LinkedIn: %s
- Company Website Context: %s`,
		contact.FirstName, contact.LastName, title, company, industry,
		contact.City, contact.State, contact.Country, linkedin, scraped)
}

// sendRequest sends a chat completion request to the OpenAI API
func (c *client) sendRequest(ctx context.Context, model string, temperature float64, messages []Message) (string, error) {
	requestBody := request{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	c.telemetry.RecordLLMUsage(model, openaiResp.Usage.PromptTokens, openaiResp.Usage.CompletionTokens, c.costPer1KIn, c.costPer1KOut)

	return openaiResp.Choices[0].Message.Content, nil
}
