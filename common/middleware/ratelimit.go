// Package middleware holds echo middleware shared by the engine routes.
package middleware

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/ragflow/common/ratelimit"
)

// isInternalRequest reports whether the caller is a trusted internal
// service. Requires INTERNAL_SERVICE_SECRET to be set; with no secret
// configured there is no bypass.
func isInternalRequest(c echo.Context) bool {
	header := c.Request().Header.Get("X-Internal-Service")
	if header == "" {
		return false
	}
	secret := os.Getenv("INTERNAL_SERVICE_SECRET")
	return secret != "" && header == secret
}

// GlobalRateLimit applies the service-wide submission window. A nil
// limiter disables the check, and Redis errors fail open: the API must
// not go down with its rate-limit store.
func GlobalRateLimit(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil || isInternalRequest(c) {
				return next(c)
			}

			result, err := limiter.CheckGlobal(c.Request().Context())
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "service is at capacity, try again later",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      60,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}
			return next(c)
		}
	}
}
