package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AdminHandler exposes process-wide state: breaker resets, error history,
// retry counters, node cache, and observed stats.
type AdminHandler struct {
	components *Components
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(components *Components) *AdminHandler {
	return &AdminHandler{components: components}
}

// GetBreakers returns per-node circuit breaker state
// GET /v1/admin/breakers
func (h *AdminHandler) GetBreakers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.components.Engine.Recovery().Breakers().States())
}

// ResetBreakers closes all circuit breakers
// POST /v1/admin/reset-breakers
func (h *AdminHandler) ResetBreakers(c echo.Context) error {
	h.components.Engine.Recovery().Breakers().Reset()
	h.components.Log.Info("circuit breakers reset")
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetErrors returns recent error records and per-kind counts
// GET /v1/admin/errors
func (h *AdminHandler) GetErrors(c echo.Context) error {
	history := h.components.Engine.Recovery().History()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"recent": history.Recent(),
		"stats":  history.Stats(),
	})
}

// ClearErrors drops the error history
// POST /v1/admin/clear-error-history
func (h *AdminHandler) ClearErrors(c echo.Context) error {
	h.components.Engine.Recovery().History().Clear()
	h.components.Log.Info("error history cleared")
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ClearRetryCounts resets all retry counters
// POST /v1/admin/clear-retry-counts
func (h *AdminHandler) ClearRetryCounts(c echo.Context) error {
	h.components.Engine.Recovery().ClearRetryCounts()
	h.components.Log.Info("retry counters cleared")
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ClearCache drops all cached node outputs
// POST /v1/admin/clear-cache
func (h *AdminHandler) ClearCache(c echo.Context) error {
	h.components.Engine.ClearCache()
	h.components.Log.Info("node output cache cleared")
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetStats returns per-node execution statistics and live counts
// GET /v1/admin/stats
func (h *AdminHandler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"nodes":           h.components.Engine.Monitor().Snapshot(),
		"live_executions": h.components.Engine.LiveCount(),
	})
}

// GetAlerts returns recently fired alerts
// GET /v1/admin/alerts
func (h *AdminHandler) GetAlerts(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts": h.components.Engine.Alerts().Recent(),
	})
}
