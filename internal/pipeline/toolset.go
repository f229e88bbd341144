package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/internal/credentials"
	"github.com/mohammad-safakhou/leadgen/internal/telemetry"
	"github.com/mohammad-safakhou/leadgen/models"
	"github.com/mohammad-safakhou/leadgen/provider"
	"github.com/mohammad-safakhou/leadgen/tools/enrich"
	"github.com/mohammad-safakhou/leadgen/tools/web_fetch"
	"github.com/mohammad-safakhou/leadgen/tools/web_search"
)

// Toolset bundles the external clients one run talks to. It is built per run,
// after credential resolution, so a key saved in settings takes effect on the
// user's next run without a restart.
type Toolset struct {
	Provider provider.Provider
	Searcher web_search.WebSearcher
	Fetcher  web_fetch.WebFetcher
	// Enricher is nil when no enrichment key is configured; the run then
	// falls back to company-level leads built from search results.
	Enricher enrich.Enricher
}

// ToolsetBuilder constructs the Toolset for a run owner.
type ToolsetBuilder interface {
	Build(ctx context.Context, userID string) (Toolset, error)
}

// CredentialToolsetBuilder resolves API keys through the stored-key-then-config
// chain and instantiates the real clients.
type CredentialToolsetBuilder struct {
	cfg       *config.Config
	resolver  *credentials.Resolver
	telemetry *telemetry.Telemetry
}

func NewToolsetBuilder(cfg *config.Config, resolver *credentials.Resolver, tel *telemetry.Telemetry) *CredentialToolsetBuilder {
	return &CredentialToolsetBuilder{cfg: cfg, resolver: resolver, telemetry: tel}
}

func (b *CredentialToolsetBuilder) Build(ctx context.Context, userID string) (Toolset, error) {
	var ts Toolset

	llmKey, err := b.resolver.Resolve(ctx, userID, models.ServiceOpenAI)
	if err != nil {
		return ts, fmt.Errorf("llm credentials: %w", err)
	}
	p, err := provider.NewProvider(provider.OpenAI, llmKey, b.cfg.LLM, b.telemetry)
	if err != nil {
		return ts, fmt.Errorf("llm provider: %w", err)
	}
	ts.Provider = p

	searchService, searchProvider := models.ServiceSerper, web_search.SerperProvider
	if b.cfg.Search.Provider == string(web_search.BraveProvider) {
		searchService, searchProvider = models.ServiceBrave, web_search.BraveProvider
	}
	searchKey, err := b.resolver.Resolve(ctx, userID, searchService)
	if err != nil {
		return ts, fmt.Errorf("search credentials: %w", err)
	}
	searcher, err := web_search.NewWebSearcher(searchProvider, searchKey)
	if err != nil {
		return ts, fmt.Errorf("search provider: %w", err)
	}
	ts.Searcher = searcher

	fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(b.cfg.Fetch.Type), b.cfg.Fetch.Timeout, b.cfg.Fetch.MaxChars)
	if err != nil {
		return ts, fmt.Errorf("web fetcher: %w", err)
	}
	ts.Fetcher = fetcher

	enrichKey, err := b.resolver.Resolve(ctx, userID, models.ServiceApollo)
	switch {
	case err == nil:
		e, err := enrich.NewEnricher(enrich.ApolloProviderType, enrichKey, b.cfg.Enrich.BaseURL)
		if err != nil {
			return ts, fmt.Errorf("enrichment provider: %w", err)
		}
		ts.Enricher = e
	case errors.Is(err, credentials.ErrNotConfigured):
		// Optional service, run proceeds without contact enrichment.
	default:
		return ts, fmt.Errorf("enrichment credentials: %w", err)
	}

	return ts, nil
}
