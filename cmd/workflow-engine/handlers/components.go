// Package handlers exposes the engine over HTTP: execution submission
// (sync, SSE streaming, partial retry), workflow definition management,
// and admin/stats endpoints.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/ragflow/cmd/workflow-engine/runtime"
	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/ratelimit"
	"github.com/lyzr/ragflow/common/store"
	"github.com/lyzr/ragflow/common/workflow"
)

// Components bundles everything the handlers depend on
type Components struct {
	Config      *config.Config
	Engine      *runtime.Engine
	Definitions *store.DefinitionStore
	Executions  *store.RedisStore
	Limiter     *ratelimit.Limiter
	Validator   *workflow.Validator
	Log         *logger.Logger
}

// tenantIdentity extracts the required identity headers
func tenantIdentity(c echo.Context) (tenantID, userID string, err error) {
	tenantID = c.Request().Header.Get("X-Tenant-ID")
	userID = c.Request().Header.Get("X-User-ID")
	if tenantID == "" || userID == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "X-Tenant-ID and X-User-ID headers are required")
	}
	return tenantID, userID, nil
}

func errorResponse(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]interface{}{"error": message})
}
