// Package credentials resolves the effective API key for each external
// service. Keys stored per user through the settings API take precedence
// over the keys in the config file, so a deployment key can serve as a
// shared fallback.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/leadgen/config"
	"github.com/mohammad-safakhou/leadgen/models"
)

// ErrNotConfigured means neither a stored key nor a config key exists for
// the requested service.
var ErrNotConfigured = errors.New("api key not configured")

// KeySource reads stored per-user keys. Empty string means no stored key.
type KeySource interface {
	GetAPIKey(ctx context.Context, userID, service string) (string, error)
}

// Resolver picks the effective key per service and user.
type Resolver struct {
	cfg    *config.Config
	source KeySource // nil when no credential store is attached
}

func NewResolver(cfg *config.Config, source KeySource) *Resolver {
	return &Resolver{cfg: cfg, source: source}
}

// Resolve returns the effective key for one service. A stored user key
// wins; otherwise the config key; otherwise ErrNotConfigured.
func (r *Resolver) Resolve(ctx context.Context, userID, service string) (string, error) {
	if !models.KnownService(service) {
		return "", fmt.Errorf("unknown service: %s", service)
	}
	if r.source != nil && userID != "" {
		stored, err := r.source.GetAPIKey(ctx, userID, service)
		if err != nil {
			return "", err
		}
		if stored != "" {
			return stored, nil
		}
	}
	if key := r.configKey(service); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotConfigured, service)
}

// Missing returns the subset of services that do not resolve to a key,
// in the order given. Store read errors count as missing.
func (r *Resolver) Missing(ctx context.Context, userID string, services ...string) []string {
	var missing []string
	for _, svc := range services {
		if _, err := r.Resolve(ctx, userID, svc); err != nil {
			missing = append(missing, svc)
		}
	}
	return missing
}

func (r *Resolver) configKey(service string) string {
	switch service {
	case models.ServiceOpenAI:
		return r.cfg.LLM.APIKey
	case models.ServiceSerper:
		return r.cfg.Search.SerperAPIKey
	case models.ServiceBrave:
		return r.cfg.Search.BraveAPIKey
	case models.ServiceApollo:
		return r.cfg.Enrich.APIKey
	default:
		return ""
	}
}

// Mask renders a key for the settings UI without revealing it.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return ""
	case len(key) > 6:
		return key[:3] + "..." + key[len(key)-3:]
	default:
		return "***"
	}
}
