package enrich

import (
	"context"

	"github.com/mohammad-safakhou/leadgen/models"
	"github.com/mohammad-safakhou/leadgen/tools/enrich/apollo"
)

// Enricher finds people at a company domain in two steps: DiscoverContacts
// returns obfuscated stubs, Detail resolves one stub to a full contact.
// Detail may fall back to the stub's partial data when the provider cannot
// resolve it, so callers filter on models.Contact.Quality afterwards.
type Enricher interface {
	DiscoverContacts(ctx context.Context, domain string, c models.ParsedQuery) ([]models.ContactRef, error)
	Detail(ctx context.Context, ref models.ContactRef) (models.Contact, error)
}

type ProviderType string

const (
	ApolloProviderType ProviderType = "apollo"
)

func NewEnricher(providerType ProviderType, apiKey, baseURL string) (Enricher, error) {
	switch providerType {
	case ApolloProviderType, "":
		return &apollo.Client{ApiKey: apiKey, BaseURL: baseURL}, nil
	default:
		return nil, &Error{"unsupported enrichment provider"}
	}
}
