package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/leadgen/internal/runtime"
	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

// SavedSearchesHandler manages reusable queries. A saved search with a cron
// expression is also picked up by the scheduler.
type SavedSearchesHandler struct {
	Store *store.Store
	Orch  Pipeline
}

func (h *SavedSearchesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("/:id", h.remove)
	g.POST("/:id/run", h.run)
}

// Create saved search
//
//	@Summary	Save a reusable search
//	@Tags		searches
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		SavedSearchRequest	true	"Saved search payload"
//	@Success	201		{object}	models.SavedSearch
//	@Failure	400		{object}	HTTPError
//	@Failure	500		{object}	HTTPError
//	@Router		/api/searches [post]
func (h *SavedSearchesHandler) create(c echo.Context) error {
	var req SavedSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Query = strings.TrimSpace(req.Query)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.Tone == "" {
		req.Tone = models.ToneFriendly
	}
	if req.Channel == "" {
		req.Channel = models.ChannelEmail
	}
	if !models.ValidTone(req.Tone) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown tone")
	}
	if !models.ValidChannel(req.Channel) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown channel")
	}
	if req.ScheduleCron != "" && req.ScheduleCron != "@daily" && req.ScheduleCron != "@hourly" {
		if _, err := cronexpr.Parse(req.ScheduleCron); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule_cron")
		}
	}

	rec, err := h.Store.CreateSavedSearch(c.Request().Context(), models.SavedSearch{
		UserID:        c.Get("user_id").(string),
		Name:          req.Name,
		Query:         req.Query,
		SenderContext: req.SenderContext,
		Tone:          req.Tone,
		Channel:       req.Channel,
		ScheduleCron:  req.ScheduleCron,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

// List saved searches
//
//	@Summary	List the caller's saved searches
//	@Tags		searches
//	@Produce	json
//	@Success	200	{array}		models.SavedSearch
//	@Failure	500	{object}	HTTPError
//	@Router		/api/searches [get]
func (h *SavedSearchesHandler) list(c echo.Context) error {
	recs, err := h.Store.ListSavedSearches(c.Request().Context(), c.Get("user_id").(string))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if recs == nil {
		recs = []models.SavedSearch{}
	}
	return c.JSON(http.StatusOK, recs)
}

// Delete saved search
//
//	@Summary	Remove a saved search
//	@Tags		searches
//	@Param		id	path	string	true	"Saved search ID"
//	@Success	204	{string}	string	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Router		/api/searches/{id} [delete]
func (h *SavedSearchesHandler) remove(c echo.Context) error {
	id, err := pathID(c, "saved search not found")
	if err != nil {
		return err
	}
	err = h.Store.DeleteSavedSearch(c.Request().Context(), id, c.Get("user_id").(string))
	if err != nil {
		if errors.Is(err, store.ErrSavedSearchNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "saved search not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Run saved search
//
//	@Summary	Start a run from a saved search
//	@Tags		searches
//	@Produce	json
//	@Param		id	path		string	true	"Saved search ID"
//	@Success	202	{object}	models.Run
//	@Failure	404	{object}	HTTPError
//	@Failure	500	{object}	HTTPError
//	@Router		/api/searches/{id}/run [post]
func (h *SavedSearchesHandler) run(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id, err := pathID(c, "saved search not found")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	recs, err := h.Store.ListSavedSearches(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var rec *models.SavedSearch
	for i := range recs {
		if recs[i].ID == id {
			rec = &recs[i]
			break
		}
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "saved search not found")
	}

	run, err := h.Orch.StartRun(ctx, models.RunRequest{
		UserID:        userID,
		Query:         rec.Query,
		SenderContext: rec.SenderContext,
		Tone:          rec.Tone,
		Channel:       rec.Channel,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_ = h.Store.TouchSavedSearch(ctx, rec.ID, run.CreatedAt)
	return c.JSON(http.StatusAccepted, run)
}
