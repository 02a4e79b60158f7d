package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicalkb/medrag/internal/rag/engine"
	"github.com/clinicalkb/medrag/internal/telemetry"
)

// HealthHandler reports collaborator reachability and metric snapshots.
type HealthHandler struct {
	Engine    *engine.Engine
	Telemetry *telemetry.Telemetry
}

func (h *HealthHandler) Register(g *echo.Group) {
	g.GET("", h.status)
	g.GET("/stats", h.stats)
}

func (h *HealthHandler) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Engine.Health(c.Request().Context()))
}

func (h *HealthHandler) stats(c echo.Context) error {
	if h.Telemetry == nil {
		return echo.NewHTTPError(http.StatusNotFound, "telemetry disabled")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metrics": h.Telemetry.Snapshot(),
		"costs":   h.Telemetry.Costs(),
	})
}
