package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
)

// RequireRole admits actors holding at least one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			for _, required := range roles {
				if HasRole(ctx, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, middleware.ErrorBody{
				Code:    "FORBIDDEN",
				Message: fmt.Sprintf("required role: %s", strings.Join(roles, " or ")),
			})
		}
	}
}
