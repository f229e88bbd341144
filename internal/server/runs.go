package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/leadgen/internal/credentials"
	"github.com/mohammad-safakhou/leadgen/internal/leadindex"
	"github.com/mohammad-safakhou/leadgen/internal/pipeline"
	"github.com/mohammad-safakhou/leadgen/internal/runlog"
	"github.com/mohammad-safakhou/leadgen/internal/runtime"
	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

// Pipeline is the slice of the orchestrator the HTTP layer drives.
// *pipeline.Orchestrator satisfies it.
type Pipeline interface {
	StartRun(ctx context.Context, req models.RunRequest) (models.Run, error)
	Status(ctx context.Context, runID string, afterSeq int64) (models.Run, []runlog.Entry, error)
	Cancel(ctx context.Context, runID, userID string) error
	Running(runID string) bool
	Forget(ctx context.Context, runID string)
	RegenerateOutreach(ctx context.Context, leadID, userID string) (models.Lead, error)
}

// pathID returns the :id path parameter, rejected before it reaches the
// store when it is not a UUID. Postgres would refuse it anyway, but with a
// type error rather than a clean not-found.
func pathID(c echo.Context, notFound string) (string, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, notFound)
	}
	return id, nil
}

type RunsHandler struct {
	Store *store.Store
	Orch  Pipeline
	Creds *credentials.Resolver
	Index *leadindex.Index
	// SearchService is the web search provider runs depend on, serper unless
	// configured otherwise.
	SearchService string
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id/status", h.status)
	g.POST("/:id/cancel", h.cancel)
	g.DELETE("/:id", h.remove)
	g.GET("/:id/leads", h.leads)
	g.GET("/:id/export", h.export)
}

// Create run
//
//	@Summary		Start a lead generation run
//	@Description	Parses the query, searches the web, enriches contacts and drafts outreach in the background
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		RunCreateRequest	true	"Run payload"
//	@Success		202		{object}	models.Run
//	@Failure		400		{object}	MissingKeysResponse
//	@Failure		500		{object}	HTTPError
//	@Router			/api/runs [post]
func (h *RunsHandler) create(c echo.Context) error {
	var req RunCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	search := h.SearchService
	if search == "" {
		search = models.ServiceSerper
	}
	if missing := h.Creds.Missing(ctx, userID, search, models.ServiceOpenAI); len(missing) > 0 {
		return c.JSON(http.StatusBadRequest, MissingKeysResponse{
			Error:       "API keys not configured",
			MissingKeys: missing,
			Message: "Please configure your API keys in settings before generating leads. " +
				"Required: " + search + " (web search), openai (AI processing). " +
				"Optional: apollo (contact enrichment).",
		})
	}
	if missing := h.Creds.Missing(ctx, userID, models.ServiceApollo); len(missing) > 0 {
		log.Printf("user %s starting run without apollo key, leads will come from search results only", userID)
	}

	run, err := h.Orch.StartRun(ctx, models.RunRequest{
		UserID:        userID,
		Query:         req.Query,
		SenderContext: req.SenderContext,
		Tone:          req.Tone,
		Channel:       req.Channel,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, run)
}

// List runs
//
//	@Summary	List the caller's runs, newest first
//	@Tags		runs
//	@Produce	json
//	@Success	200	{array}		models.Run
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs [get]
func (h *RunsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

// Run status
//
//	@Summary		Poll a run's status and progress log
//	@Description	after is the count of log entries already consumed; only newer entries are returned
//	@Tags			runs
//	@Produce		json
//	@Param			id		path		string	true	"Run ID"
//	@Param			after	query		int		false	"Progress log cursor"
//	@Success		200		{object}	RunStatusResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Router			/api/runs/{id}/status [get]
func (h *RunsHandler) status(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runID, err := pathID(c, "run not found")
	if err != nil {
		return err
	}

	after := int64(0)
	if raw := c.QueryParam("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after cursor")
		}
		after = v
	}

	// after counts consumed entries, the log cursor is the last consumed
	// sequence number
	run, logs, err := h.Orch.Status(c.Request().Context(), runID, after-1)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if run.UserID != "" && run.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if logs == nil {
		logs = []runlog.Entry{}
	}
	return c.JSON(http.StatusOK, RunStatusResponse{Run: run, Logs: logs})
}

// Cancel run
//
//	@Summary	Request cancellation of an in-flight run
//	@Tags		runs
//	@Produce	json
//	@Param		id	path		string	true	"Run ID"
//	@Success	202	{object}	map[string]string
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/runs/{id}/cancel [post]
func (h *RunsHandler) cancel(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runID, err := pathID(c, "run not found")
	if err != nil {
		return err
	}
	if err := h.Orch.Cancel(c.Request().Context(), runID, userID); err != nil {
		switch {
		case errors.Is(err, models.ErrRunNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		case errors.Is(err, pipeline.ErrRunFinished):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Delete run
//
//	@Summary	Delete a finished run and everything attached to it
//	@Tags		runs
//	@Param		id	path	string	true	"Run ID"
//	@Success	204	{string}	string	"No Content"
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/runs/{id} [delete]
func (h *RunsHandler) remove(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runID, err := pathID(c, "run not found")
	if err != nil {
		return err
	}
	if h.Orch.Running(runID) {
		return echo.NewHTTPError(http.StatusConflict, "run is still processing")
	}
	if err := h.Store.DeleteRun(c.Request().Context(), runID, userID); err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Orch.Forget(c.Request().Context(), runID)
	return c.NoContent(http.StatusNoContent)
}

// Run leads
//
//	@Summary		List the leads of a run
//	@Description	q filters by full text match over names, titles, companies and drafts; selected filters by selection state
//	@Tags			runs
//	@Produce		json
//	@Param			id			path		string	true	"Run ID"
//	@Param			q			query		string	false	"Search query"
//	@Param			selected	query		bool	false	"Selection filter"
//	@Success		200			{array}		models.Lead
//	@Failure		400			{object}	HTTPError
//	@Failure		404			{object}	HTTPError
//	@Router			/api/runs/{id}/leads [get]
func (h *RunsHandler) leads(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runID, err := pathID(c, "run not found")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if err := h.authorizeRun(ctx, runID, userID); err != nil {
		return err
	}
	leads, err := h.Store.ListLeads(ctx, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if raw := c.QueryParam("selected"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid selected filter")
		}
		kept := leads[:0]
		for _, l := range leads {
			if l.IsSelected == want {
				kept = append(kept, l)
			}
		}
		leads = kept
	}

	if q := strings.TrimSpace(c.QueryParam("q")); q != "" && h.Index != nil && len(leads) > 0 {
		hits, err := h.Index.Search(runID, q, len(leads))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		rank := make(map[string]int, len(hits)) // lead id -> 1-based rank
		for _, hit := range hits {
			rank[hit.LeadID] = hit.Rank
		}
		matched := make([]models.Lead, len(hits))
		for _, l := range leads {
			if r, ok := rank[l.ID]; ok {
				matched[r-1] = l
			}
		}
		kept := matched[:0]
		for _, l := range matched {
			if l.ID != "" {
				kept = append(kept, l)
			}
		}
		leads = kept
	}

	if leads == nil {
		leads = []models.Lead{}
	}
	return c.JSON(http.StatusOK, leads)
}

// Export run
//
//	@Summary		Download a run's leads as CSV
//	@Description	type is one of contacts, companies, contacts_companies, outreach, full or custom; custom takes fields as comma separated keys
//	@Tags			runs
//	@Produce		text/csv
//	@Param			id				path		string	true	"Run ID"
//	@Param			type			query		string	false	"Export type"
//	@Param			fields			query		string	false	"Custom field keys"
//	@Param			selected_only	query		bool	false	"Export only selected leads (default true)"
//	@Success		200				{string}	string	"CSV payload"
//	@Failure		400				{object}	HTTPError
//	@Failure		404				{object}	HTTPError
//	@Router			/api/runs/{id}/export [get]
func (h *RunsHandler) export(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runID, err := pathID(c, "run not found")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	exportType := c.QueryParam("type")
	if exportType == "" {
		exportType = exportTypeFull
	}
	var custom []string
	if raw := c.QueryParam("fields"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				custom = append(custom, f)
			}
		}
	}
	fields, err := exportFields(exportType, custom)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	selectedOnly := true
	if raw := c.QueryParam("selected_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid selected_only filter")
		}
		selectedOnly = v
	}

	if err := h.authorizeRun(ctx, runID, userID); err != nil {
		return err
	}
	leads, err := h.Store.ListLeads(ctx, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if selectedOnly {
		kept := leads[:0]
		for _, l := range leads {
			if l.IsSelected {
				kept = append(kept, l)
			}
		}
		leads = kept
	}
	if len(leads) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no selected leads found for this run")
	}

	data := exportCSV(leads, fields)
	filename := exportFilename(exportType, runID, time.Now().UTC())
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}

// authorizeRun hides other users' runs behind 404.
func (h *RunsHandler) authorizeRun(ctx context.Context, runID, userID string) error {
	run, err := h.Store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if run.UserID != "" && run.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return nil
}
