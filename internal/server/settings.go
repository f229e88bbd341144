package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/leadgen/internal/credentials"
	"github.com/mohammad-safakhou/leadgen/internal/runtime"
	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

// SettingsHandler manages per-user API keys for the external services the
// pipeline depends on. Keys saved here take precedence over config keys on
// the user's next run.
type SettingsHandler struct {
	Store *store.Store
	Creds *credentials.Resolver

	// Client and the base URLs below are overridable in tests; zero values
	// hit the real services.
	Client    *http.Client
	SerperURL string
	BraveURL  string
	ApolloURL string
	OpenAIURL string
}

func (h *SettingsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)
	g.PUT("/keys", h.updateKeys)
	g.DELETE("/keys/:service", h.deleteKey)
	g.POST("/test/:service", h.testKey)
}

// List settings
//
//	@Summary	Show which API keys are configured, masked
//	@Tags		settings
//	@Produce	json
//	@Success	200	{object}	SettingsResponse
//	@Failure	500	{object}	HTTPError
//	@Router		/api/settings [get]
func (h *SettingsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	keys, err := h.maskedKeys(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SettingsResponse{Keys: keys})
}

// Update keys
//
//	@Summary		Save API keys
//	@Description	Body maps service name to key; an empty key removes the stored one
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		map[string]string	true	"Service to key map"
//	@Success		200		{object}	SettingsResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/settings/keys [put]
func (h *SettingsHandler) updateKeys(c echo.Context) error {
	var req map[string]string
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	for service := range req {
		if !models.KnownService(service) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown service %q", service))
		}
	}
	for service, key := range req {
		key = strings.TrimSpace(key)
		var err error
		if key == "" {
			err = h.Store.DeleteAPIKey(ctx, userID, service)
		} else {
			err = h.Store.UpsertAPIKey(ctx, userID, service, key)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	keys, err := h.maskedKeys(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SettingsResponse{Keys: keys})
}

// Delete key
//
//	@Summary	Remove a stored API key
//	@Tags		settings
//	@Param		service	path	string	true	"Service name"
//	@Success	204		{string}	string	"No Content"
//	@Failure	400		{object}	HTTPError
//	@Failure	500		{object}	HTTPError
//	@Router		/api/settings/keys/{service} [delete]
func (h *SettingsHandler) deleteKey(c echo.Context) error {
	service := c.Param("service")
	if !models.KnownService(service) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown service %q", service))
	}
	userID := c.Get("user_id").(string)
	if err := h.Store.DeleteAPIKey(c.Request().Context(), userID, service); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Test key
//
//	@Summary		Validate an API key with a live call
//	@Description	Uses the stored key if present, else the configured one
//	@Tags			settings
//	@Produce		json
//	@Param			service	path		string	true	"Service name"
//	@Success		200		{object}	KeyTestResponse
//	@Failure		400		{object}	HTTPError
//	@Router			/api/settings/test/{service} [post]
func (h *SettingsHandler) testKey(c echo.Context) error {
	service := c.Param("service")
	if !models.KnownService(service) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"invalid service, must be one of: apollo, brave, openai, serper")
	}
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	key, err := h.Creds.Resolve(ctx, userID, service)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConfigured) {
			return c.JSON(http.StatusOK, KeyTestResponse{
				Service: service,
				Status:  "invalid",
				Message: fmt.Sprintf("%s API key is not configured.", service),
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.checkKey(ctx, service, key))
}

func (h *SettingsHandler) maskedKeys(ctx context.Context, userID string) (map[string]string, error) {
	stored, err := h.Store.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	services := []string{models.ServiceOpenAI, models.ServiceSerper, models.ServiceBrave, models.ServiceApollo}
	keys := make(map[string]string, len(services))
	for _, service := range services {
		key := stored[service]
		if key == "" {
			// config-tier fallback; an empty user id skips the store lookup
			if k, err := h.Creds.Resolve(ctx, "", service); err == nil {
				key = k
			}
		}
		keys[service] = credentials.Mask(key)
	}
	return keys, nil
}

// checkKey fires the cheapest real request each service offers and folds the
// outcome into a valid/invalid verdict.
func (h *SettingsHandler) checkKey(ctx context.Context, service, key string) KeyTestResponse {
	invalid := func(format string, args ...any) KeyTestResponse {
		return KeyTestResponse{Service: service, Status: "invalid", Message: fmt.Sprintf(format, args...)}
	}

	var (
		req *http.Request
		err error
	)
	switch service {
	case models.ServiceSerper:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			urlOr(h.SerperURL, "https://google.serper.dev/search"),
			strings.NewReader(`{"q":"test","num":1}`))
		if err == nil {
			req.Header.Set("X-API-KEY", key)
			req.Header.Set("Content-Type", "application/json")
		}
	case models.ServiceBrave:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet,
			urlOr(h.BraveURL, "https://api.search.brave.com/res/v1/web/search")+"?q=test&count=1", nil)
		if err == nil {
			req.Header.Set("X-Subscription-Token", key)
			req.Header.Set("Accept", "application/json")
		}
	case models.ServiceApollo:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			urlOr(h.ApolloURL, "https://api.apollo.io")+"/api/v1/mixed_people/api_search",
			strings.NewReader(`{"q_organization_domains_list":["apollo.io"],"page":1,"per_page":1}`))
		if err == nil {
			req.Header.Set("X-Api-Key", key)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Cache-Control", "no-cache")
		}
	case models.ServiceOpenAI:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet,
			urlOr(h.OpenAIURL, "https://api.openai.com")+"/v1/models", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}
	if err != nil {
		return invalid("API key validation failed: %v", err)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return invalid("API key validation failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return invalid("API key validation failed: HTTP %d - %s", resp.StatusCode, snippet)
	}

	valid := func(message string) KeyTestResponse {
		return KeyTestResponse{Service: service, Status: "valid", Message: message}
	}
	switch service {
	case models.ServiceSerper:
		return valid("Serper API key is valid. Test search succeeded.")
	case models.ServiceBrave:
		return valid("Brave API key is valid. Test search succeeded.")
	case models.ServiceApollo:
		var out struct {
			TotalEntries int64 `json:"total_entries"`
		}
		_ = json.Unmarshal(body, &out)
		return valid(fmt.Sprintf("Apollo API key is valid. Found %d entries.", out.TotalEntries))
	default:
		return valid("OpenAI API key is valid. Models endpoint responded successfully.")
	}
}

func urlOr(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
