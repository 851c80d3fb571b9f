// Package middleware holds engine-specific echo middleware.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// UsernameKey is the context key for the authenticated username
const UsernameKey ContextKey = "username"

// ExtractUsername extracts the X-User-ID header into the request
// context. Workflows are namespaced per user; executions carry the
// username into trigger info and event channel names.
func ExtractUsername() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if username := c.Request().Header.Get("X-User-ID"); username != "" {
				c.Set(string(UsernameKey), username)
			}
			return next(c)
		}
	}
}

// GetUsername retrieves the username from the request context, or ""
func GetUsername(c echo.Context) string {
	username, _ := c.Get(string(UsernameKey)).(string)
	return username
}

// RequireUsername ensures a username exists in context. When it is
// missing the 401 response is already written; callers just return err.
func RequireUsername(c echo.Context) (string, error) {
	username := GetUsername(c)
	if username == "" {
		return "", c.JSON(http.StatusUnauthorized, map[string]any{
			"error_code":    "unauthenticated",
			"error_message": "X-User-ID header is required",
		})
	}
	return username, nil
}
