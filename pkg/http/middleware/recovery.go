package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	applogger "PatternEngine/pkg/logger"
)

// Recover turns handler panics into a 500 response and logs the stack.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				l.Error("panic in http handler",
					applogger.String("route", routeOf(c)),
					applogger.String("panic", fmt.Sprint(r)),
					applogger.String("stack", string(debug.Stack())))
				err = abort(c, http.StatusInternalServerError)
			}()
			return next(c)
		}
	}
}

// abort writes the bare response envelope for status.
func abort(c echo.Context, status int) error {
	return c.JSON(status, map[string]interface{}{
		"status":  status,
		"message": http.StatusText(status),
	})
}

// routeOf prefers the registered route template to keep labels bounded.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
