package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicalkb/medrag/internal/rag"
	"github.com/clinicalkb/medrag/internal/rag/engine"
)

// QueryHandler answers medical queries through the engine.
type QueryHandler struct {
	Engine *engine.Engine
	Audit  AuditSink
}

func (h *QueryHandler) Register(g *echo.Group) {
	g.POST("", h.submit)
	g.DELETE("/cache", h.clearCache)
}

type queryRequest struct {
	Query     string                `json:"query"`
	Overrides *rag.ContextOverrides `json:"context,omitempty"`
	History   []rag.ChatMessage     `json:"history,omitempty"`
}

func (h *QueryHandler) submit(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if h.Audit != nil {
		h.Audit.Record(ctx, AuditEvent{Kind: "query_received", ClientIP: c.RealIP()})
	}
	result, err := h.Engine.Submit(ctx, rag.MedicalQuery{
		Text:      req.Query,
		Overrides: req.Overrides,
		History:   req.History,
	})
	if err != nil {
		if h.Audit != nil {
			h.Audit.Record(ctx, AuditEvent{Kind: "query_failed", Detail: err.Error(), ClientIP: c.RealIP()})
		}
		return err
	}
	if h.Audit != nil {
		h.Audit.Record(ctx, AuditEvent{
			Kind:     "query_answered",
			QueryID:  result.ID,
			ClientIP: c.RealIP(),
			Detail:   result.Strategy,
			CacheHit: result.CacheHit,
		})
	}
	return c.JSON(http.StatusOK, result)
}

func (h *QueryHandler) clearCache(c echo.Context) error {
	if err := h.Engine.ClearCache(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
