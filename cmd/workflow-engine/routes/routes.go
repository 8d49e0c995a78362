// Package routes wires the HTTP endpoints to their handlers.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyzr/ragflow/cmd/workflow-engine/handlers"
)

// Register mounts all engine routes on the echo instance
func Register(e *echo.Echo, components *handlers.Components, registry *prometheus.Registry) {
	executions := handlers.NewExecutionHandler(components)
	workflows := handlers.NewWorkflowHandler(components)
	admin := handlers.NewAdminHandler(components)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")

	exec := v1.Group("/executions")
	{
		exec.POST("", executions.Execute)
		exec.POST("/stream", executions.ExecuteStream)
		exec.POST("/retry-from", executions.RetryFrom)
		exec.GET("/:id", executions.GetExecution)
		exec.POST("/:id/stop", executions.StopExecution)
	}

	wf := v1.Group("/workflows")
	{
		wf.POST("", workflows.CreateWorkflow)
		wf.GET("", workflows.ListWorkflows)
		wf.POST("/validate", workflows.ValidateWorkflow)
		wf.GET("/:id", workflows.GetWorkflow)
		wf.PATCH("/:id", workflows.PatchWorkflow)
	}

	adm := v1.Group("/admin")
	{
		adm.GET("/breakers", admin.GetBreakers)
		adm.POST("/reset-breakers", admin.ResetBreakers)
		adm.GET("/errors", admin.GetErrors)
		adm.POST("/clear-error-history", admin.ClearErrors)
		adm.POST("/clear-retry-counts", admin.ClearRetryCounts)
		adm.POST("/clear-cache", admin.ClearCache)
		adm.GET("/stats", admin.GetStats)
		adm.GET("/alerts", admin.GetAlerts)
	}
}
