package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/internal/telemetry"
	"github.com/mohammad-safakhou/leadgen/models"
	openai_provider "github.com/mohammad-safakhou/leadgen/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// ParseQuery turns a natural language lead request into structured
	// search criteria.
	ParseQuery(ctx context.Context, rawQuery string) (models.ParsedQuery, error)
	// GenerateOutreach writes a personalized outreach draft for one lead.
	GenerateOutreach(ctx context.Context, lead models.Lead, req models.RunRequest) (models.Outreach, error)
}

// NewProvider creates a new LLM client. The API key is passed separately
// from the config section because stored user credentials override the
// configured key at run time.
func NewProvider(client Client, apiKey string, cfg config.LLMConfig, tel *telemetry.Telemetry) (Provider, error) {
	switch client {
	case OpenAI:
		if apiKey == "" {
			return nil, errors.New("openai api key not set")
		}
		return openai_provider.NewOpenAIClient(apiKey, cfg, tel), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
