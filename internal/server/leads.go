package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/leadgen/internal/pipeline"
	"github.com/mohammad-safakhou/leadgen/internal/runtime"
	"github.com/mohammad-safakhou/leadgen/internal/store"
	"github.com/mohammad-safakhou/leadgen/models"
)

type LeadsHandler struct {
	Store *store.Store
	Orch  Pipeline
}

func (h *LeadsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.updateSelection)
	g.PATCH("/:id/email", h.updateEmail)
	g.POST("/:id/regenerate", h.regenerate)
}

// Get lead
//
//	@Summary	Fetch one lead
//	@Tags		leads
//	@Produce	json
//	@Param		id	path		string	true	"Lead ID"
//	@Success	200	{object}	models.Lead
//	@Failure	404	{object}	HTTPError
//	@Router		/api/leads/{id} [get]
func (h *LeadsHandler) get(c echo.Context) error {
	lead, err := h.authorizeLead(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lead)
}

// Update selection
//
//	@Summary	Include or exclude a lead from exports
//	@Tags		leads
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string					true	"Lead ID"
//	@Param		payload	body		LeadSelectionRequest	true	"Selection payload"
//	@Success	200		{object}	models.Lead
//	@Failure	400		{object}	HTTPError
//	@Failure	404		{object}	HTTPError
//	@Router		/api/leads/{id} [patch]
func (h *LeadsHandler) updateSelection(c echo.Context) error {
	var req LeadSelectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.IsSelected == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_selected is required")
	}
	lead, err := h.authorizeLead(c)
	if err != nil {
		return err
	}
	if err := h.Store.SetLeadSelected(c.Request().Context(), lead.ID, *req.IsSelected); err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "lead not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	lead.IsSelected = *req.IsSelected
	return c.JSON(http.StatusOK, lead)
}

// Update email
//
//	@Summary	Edit the generated outreach draft
//	@Tags		leads
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"Lead ID"
//	@Param		payload	body		LeadEmailRequest	true	"Email payload"
//	@Success	200		{object}	models.Lead
//	@Failure	400		{object}	HTTPError
//	@Failure	404		{object}	HTTPError
//	@Router		/api/leads/{id}/email [patch]
func (h *LeadsHandler) updateEmail(c echo.Context) error {
	var req LeadEmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Subject == nil && req.Body == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "subject or body is required")
	}
	lead, err := h.authorizeLead(c)
	if err != nil {
		return err
	}
	if req.Subject != nil {
		lead.Outreach.Subject = *req.Subject
	}
	if req.Body != nil {
		lead.Outreach.Body = *req.Body
	}
	if err := h.Store.UpdateLeadOutreach(c.Request().Context(), lead.ID, lead.Outreach); err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "lead not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lead)
}

// Regenerate outreach
//
//	@Summary		Regenerate the outreach draft for one lead
//	@Description	Only available once the lead's run has finished
//	@Tags			leads
//	@Produce		json
//	@Param			id	path		string	true	"Lead ID"
//	@Success		200	{object}	models.Lead
//	@Failure		404	{object}	HTTPError
//	@Failure		409	{object}	HTTPError
//	@Router			/api/leads/{id}/regenerate [post]
func (h *LeadsHandler) regenerate(c echo.Context) error {
	userID := c.Get("user_id").(string)
	leadID, err := pathID(c, "lead not found")
	if err != nil {
		return err
	}
	lead, err := h.Orch.RegenerateOutreach(c.Request().Context(), leadID, userID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrLeadNotFound), errors.Is(err, models.ErrRunNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "lead not found")
		case errors.Is(err, pipeline.ErrRunActive):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lead)
}

// authorizeLead loads the lead and hides other users' leads behind 404.
func (h *LeadsHandler) authorizeLead(c echo.Context) (models.Lead, error) {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	leadID, err := pathID(c, "lead not found")
	if err != nil {
		return models.Lead{}, err
	}
	lead, err := h.Store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, models.ErrLeadNotFound) {
			return models.Lead{}, echo.NewHTTPError(http.StatusNotFound, "lead not found")
		}
		return models.Lead{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	run, err := h.Store.GetRun(ctx, lead.RunID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return models.Lead{}, echo.NewHTTPError(http.StatusNotFound, "lead not found")
		}
		return models.Lead{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if run.UserID != "" && run.UserID != userID {
		return models.Lead{}, echo.NewHTTPError(http.StatusNotFound, "lead not found")
	}
	return lead, nil
}
